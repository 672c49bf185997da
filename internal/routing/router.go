// Package routing dispatches canonical events from one platform to the other.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/chatbridge/internal/dedup"
	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/hooks"
	"github.com/soyeahso/chatbridge/internal/inbound"
	"github.com/soyeahso/chatbridge/internal/logging"
	"github.com/soyeahso/chatbridge/internal/mapping"
	"github.com/soyeahso/chatbridge/internal/metrics"
	"github.com/soyeahso/chatbridge/internal/report"
	"github.com/soyeahso/chatbridge/internal/status"
)

// Outcome is the terminal state of one dispatch.
type Outcome string

const (
	OutcomeRouted    Outcome = "routed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected" // failed validation
	OutcomeDropped   Outcome = "dropped"  // no target: unmapped conversation or unknown status target
	OutcomeFailed    Outcome = "failed"
)

// Config tunes dispatch behavior.
type Config struct {
	CreateChats bool
	Deadline    time.Duration // per event; zero means the caller's context only
	Retry       RetryPolicy
}

// Router moves canonical events between edna and amoCRM.
type Router struct {
	client   domain.ClientGateway
	crm      domain.CRM
	mapper   *mapping.Mapper
	window   dedup.Window
	reporter *report.Reporter
	hooks    *hooks.Manager
	cfg      Config
	log      *logging.Logger
}

// NewRouter creates a router. hooks may be nil.
func NewRouter(
	client domain.ClientGateway,
	crm domain.CRM,
	mapper *mapping.Mapper,
	window dedup.Window,
	reporter *report.Reporter,
	hooks *hooks.Manager,
	cfg Config,
	log *logging.Logger,
) *Router {
	return &Router{
		client:   client,
		crm:      crm,
		mapper:   mapper,
		window:   window,
		reporter: reporter,
		hooks:    hooks,
		cfg:      cfg,
		log:      log.Sub("routing"),
	}
}

// Dispatch runs one parsed webhook to completion. Failures are reported and
// absorbed; the outcome only describes what happened.
func (r *Router) Dispatch(ctx context.Context, res inbound.Result) Outcome {
	metrics.DispatchInFlight.Inc()
	defer metrics.DispatchInFlight.Dec()

	if r.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Deadline)
		defer cancel()
	}

	out := r.dispatch(ctx, res)
	metrics.Dispatched.WithLabelValues(string(res.Platform), string(out)).Inc()
	return out
}

func (r *Router) dispatch(ctx context.Context, res inbound.Result) Outcome {
	switch res.Kind {
	case inbound.KindIgnored:
		r.log.Debug().Str("platform", string(res.Platform)).Str("reason", res.Reason).Msg("webhook ignored")
		return OutcomeIgnored
	case inbound.KindMessage:
		if res.Message == nil {
			break
		}
		return r.dispatchMessage(ctx, res)
	case inbound.KindStatus:
		if res.Status == nil {
			break
		}
		return r.dispatchStatus(ctx, res)
	}
	r.reporter.Error(ctx, "dispatch", res.Platform, "", fmt.Errorf("result of kind %q carries no event", res.Kind), nil)
	return OutcomeFailed
}

// claim marks the event as seen. A window failure is logged and the event is
// processed anyway.
func (r *Router) claim(ctx context.Context, key string) bool {
	seen, err := r.window.Seen(ctx, key)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("idempotency check failed, processing anyway")
		return true
	}
	if seen {
		r.log.Debug().Str("key", key).Msg("duplicate event")
		return false
	}
	return true
}

// release forgets key so a redelivery is processed again. It is used only
// when nothing reached the target platform.
func (r *Router) release(ctx context.Context, key string) {
	if err := r.window.Forget(context.WithoutCancel(ctx), key); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("releasing idempotency key failed")
	}
}

func (r *Router) dispatchMessage(ctx context.Context, res inbound.Result) Outcome {
	msg := res.Message
	if err := msg.Validate(); err != nil {
		r.reporter.Error(ctx, "validate", msg.Source, msg.ExternalID, err, nil)
		return OutcomeRejected
	}

	key := EventKey(res)
	if !r.claim(ctx, key) {
		return OutcomeDuplicate
	}
	if len(res.Dropped) > 0 {
		r.log.Warn().
			Str("platform", string(msg.Source)).
			Str("external_id", msg.ExternalID).
			Strs("dropped", res.Dropped).
			Msg("message content not relayed")
	}

	r.emit(ctx, hooks.EventMessageReceived, map[string]any{
		"platform":       string(msg.Source),
		"externalId":     msg.ExternalID,
		"conversationId": msg.ConversationKey,
	})

	var (
		target string
		err    error
		from   domain.MessageSender
		to     domain.MessageSender
	)
	switch msg.Source {
	case domain.PlatformEdna:
		from, to = r.client, r.crm
		target, err = r.crmConversation(ctx, msg)
	default:
		from, to = r.crm, r.client
		target, err = r.mapper.Resolve(ctx, msg.Source, msg.ConversationKey)
	}
	if err != nil {
		return r.fail(ctx, "resolve", msg.Source, msg.ExternalID, key, err, false)
	}

	sent, err := r.relay(ctx, msg, from, to, target)
	if err != nil {
		return r.fail(ctx, "send", to.Platform(), msg.ExternalID, key, err, sent > 0)
	}

	r.log.Info().
		Str("from", string(msg.Source)).
		Str("to", string(to.Platform())).
		Str("external_id", msg.ExternalID).
		Str("conversation_id", target).
		Int("parts", sent).
		Msg("message routed")
	r.emit(ctx, hooks.EventMessageRouted, map[string]any{
		"from":           string(msg.Source),
		"to":             string(to.Platform()),
		"externalId":     msg.ExternalID,
		"conversationId": target,
	})
	return OutcomeRouted
}

// fail reports err and picks the outcome. Internal failures before anything
// was sent release the idempotency key.
func (r *Router) fail(ctx context.Context, stage string, p domain.Platform, externalID, key string, err error, partial bool) Outcome {
	r.reporter.Error(ctx, stage, p, externalID, err, nil)

	switch domain.KindOf(err) {
	case domain.KindUnmappedConversation, domain.KindMissingStatusTarget:
		return OutcomeDropped
	case domain.KindInternal:
		if !partial {
			r.release(ctx, key)
		}
	}
	return OutcomeFailed
}

// crmConversation finds the amoCRM conversation for a client conversation,
// opening a chat on first sight when enabled.
func (r *Router) crmConversation(ctx context.Context, msg *domain.Message) (string, error) {
	if !r.cfg.CreateChats {
		return r.mapper.Resolve(ctx, msg.Source, msg.ConversationKey)
	}

	target, _, err := r.mapper.ResolveOrCreate(ctx, msg.Source, msg.ConversationKey, msg.Account.Subdomain,
		func(ctx context.Context) (string, error) {
			req := chatRequest(msg)
			id, err := retry(ctx, r.cfg.Retry, r.log, domain.PlatformAmoCRM, "create chat",
				func(ctx context.Context) (string, error) { return r.crm.CreateChat(ctx, req) })
			if err != nil {
				return "", err
			}
			metrics.ChatsCreated.Inc()
			r.emit(ctx, hooks.EventChatCreated, map[string]any{
				"clientConversationId": msg.ConversationKey,
				"crmConversationId":    id,
			})
			return id, nil
		})
	return target, err
}

// relay moves attachments and sends msg to the target conversation. Messages
// with several attachments go out as one message per attachment; parts after
// the first carry the source id suffixed with #n. It returns how many parts
// were accepted by the target.
func (r *Router) relay(ctx context.Context, msg *domain.Message, from, to domain.MessageSender, target string) (int, error) {
	base := domain.OutboundMessage{
		ConversationID: target,
		ExternalID:     msg.ExternalID,
		Sender:         msg.Sender,
		Body:           msg.Body,
		Channel:        msg.Channel,
	}
	if len(msg.Attachments) == 0 {
		if err := r.send(ctx, msg, to, base); err != nil {
			return 0, err
		}
		return 1, nil
	}

	for i, att := range msg.Attachments {
		url, err := r.moveMedia(ctx, from, to, att)
		if err != nil {
			return i, err
		}
		att.URL = url

		part := base
		part.Attachments = []domain.Attachment{att}
		if i > 0 {
			part.ExternalID = fmt.Sprintf("%s#%d", msg.ExternalID, i+1)
		}
		if err := r.send(ctx, msg, to, part); err != nil {
			return i, err
		}
	}
	return len(msg.Attachments), nil
}

func (r *Router) moveMedia(ctx context.Context, from, to domain.MessageSender, att domain.Attachment) (string, error) {
	return retry(ctx, r.cfg.Retry, r.log, to.Platform(), "relay media", func(ctx context.Context) (string, error) {
		m, err := from.FetchMedia(ctx, att)
		if err != nil {
			return "", err
		}
		return to.UploadMedia(ctx, m)
	})
}

// send delivers one outbound message and links it for status correlation.
func (r *Router) send(ctx context.Context, msg *domain.Message, to domain.MessageSender, out domain.OutboundMessage) error {
	ref, err := retry(ctx, r.cfg.Retry, r.log, to.Platform(), "send", func(ctx context.Context) (domain.SentRef, error) {
		return to.SendMessage(ctx, out)
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	links := []domain.MessageLink{{
		SourcePlatform:       msg.Source,
		SourceMessageID:      out.ExternalID,
		TargetPlatform:       ref.Platform,
		TargetMessageID:      ref.MessageID,
		TargetConversationID: ref.ConversationID,
		CreatedAt:            now,
	}}
	// edna reports statuses under its own id; index that id back to the CRM message.
	if ref.Platform == domain.PlatformEdna && ref.MessageID != out.ExternalID {
		links = append(links, domain.MessageLink{
			SourcePlatform:       domain.PlatformEdna,
			SourceMessageID:      ref.MessageID,
			TargetPlatform:       msg.Source,
			TargetMessageID:      out.ExternalID,
			TargetConversationID: msg.ConversationKey,
			CreatedAt:            now,
		})
	}
	for _, l := range links {
		// The message is already delivered; a lost link only costs status sync.
		if err := r.mapper.LinkMessage(context.WithoutCancel(ctx), l); err != nil {
			r.log.Error().Err(err).Str("message_id", l.SourceMessageID).Msg("saving message link failed")
		}
	}
	return nil
}

func (r *Router) dispatchStatus(ctx context.Context, res inbound.Result) Outcome {
	st := res.Status
	if err := st.Validate(); err != nil {
		r.reporter.Error(ctx, "validate", st.Source, st.ExternalID, err, nil)
		return OutcomeRejected
	}

	key := EventKey(res)
	if !r.claim(ctx, key) {
		return OutcomeDuplicate
	}

	delivery, err := r.statusTarget(ctx, st)
	if err != nil {
		return r.fail(ctx, "status lookup", st.Source, st.ExternalID, key, err, false)
	}

	translated, ok := status.ToAmoCRM(st.Status, st.Reason)
	if !ok {
		r.log.Debug().
			Str("external_id", st.ExternalID).
			Str("status", string(st.Status)).
			Msg("status has no amoCRM equivalent, not forwarded")
		return OutcomeIgnored
	}
	delivery.Reason = translated.Error

	_, err = retry(ctx, r.cfg.Retry, r.log, domain.PlatformAmoCRM, "send status", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.crm.SendStatus(ctx, delivery)
	})
	if err != nil {
		return r.fail(ctx, "send status", domain.PlatformAmoCRM, st.ExternalID, key, err, true)
	}

	r.log.Debug().
		Str("external_id", st.ExternalID).
		Str("status", string(st.Status)).
		Str("crm_message_id", delivery.MessageID).
		Int("delivery_status", translated.Code).
		Msg("status forwarded")
	r.emit(ctx, hooks.EventStatusForwarded, map[string]any{
		"externalId":   st.ExternalID,
		"status":       string(st.Status),
		"crmMessageId": delivery.MessageID,
	})
	return OutcomeRouted
}

// statusTarget finds the amoCRM message an edna status refers to. The id is
// either edna's own message id or the request id we sent, which is the CRM
// message id itself.
func (r *Router) statusTarget(ctx context.Context, st *domain.StatusUpdate) (domain.StatusDelivery, error) {
	delivery := domain.StatusDelivery{Status: st.Status, Reason: st.Reason}

	link, err := r.mapper.TargetMessage(ctx, st.Source, st.ExternalID)
	if err == nil && link.TargetPlatform == domain.PlatformAmoCRM {
		delivery.MessageID = link.TargetMessageID
		delivery.ConversationID = link.TargetConversationID
		return delivery, nil
	}
	if err != nil && !errors.Is(err, domain.ErrMissingStatusTarget) {
		return delivery, err
	}

	link, err = r.mapper.TargetMessage(ctx, domain.PlatformAmoCRM, st.ExternalID)
	if err == nil && link.TargetPlatform == st.Source {
		delivery.MessageID = link.SourceMessageID
		return delivery, nil
	}
	if err != nil && !errors.Is(err, domain.ErrMissingStatusTarget) {
		return delivery, err
	}
	return delivery, fmt.Errorf("%s message %q: %w", st.Source, st.ExternalID, domain.ErrMissingStatusTarget)
}

func (r *Router) emit(ctx context.Context, event string, data map[string]any) {
	if r.hooks != nil {
		r.hooks.EmitAsync(ctx, event, data)
	}
}

// newConversationID is swapped in tests.
var newConversationID = uuid.NewString

// chatRequest describes the amoCRM chat for a client conversation. edna
// conversation keys are client phone numbers.
func chatRequest(msg *domain.Message) domain.ChatRequest {
	phone := msg.ConversationKey
	name := msg.Sender.DisplayName
	if name == "" {
		name = "Client " + phone
	}
	return domain.ChatRequest{
		ConversationID: newConversationID(),
		UserID:         "edna_" + phone,
		UserName:       name,
		Phone:          phone,
	}
}
