package email

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/veslabs/maestro/pkg/dispatch"
	"github.com/veslabs/maestro/pkg/identity"
	"github.com/veslabs/maestro/pkg/module"
)

// Pending kinds owned by this module.
const (
	pendingAfterRead     = "after-read"
	pendingReplyBody     = "reply-body"
	pendingConfirmDelete = "confirm-delete"
	pendingComposeTo     = "compose-to"
	pendingComposeSubj   = "compose-subject"
	pendingComposeBody   = "compose-body"
)

// followUpTTL bounds how long an unanswered question stays armed.
const followUpTTL = 10 * time.Minute

// Module is the mail capability module.
type Module struct {
	module.Base

	client MailClient
	tokens identity.TokenService

	// followups is this module's own per-user pending state; never shared
	// with other modules.
	followups *module.FollowUpStore

	unreadLimit int
	pollCron    string

	watch *watchList
}

// New creates the email module.
func New(client MailClient, tokens identity.TokenService) *Module {
	return &Module{
		Base: module.Base{
			ModuleID:    "email",
			DisplayName: "Email",
			Desc:        "Reads, replies to, deletes, and sends email.",
			Commands: []string{
				"read emails",
				"read my emails",
				"check email",
				"check my inbox",
				"unread emails",
				"send email",
				"send an email to *",
			},
			ModulePriority: 10,
		},
		client:      client,
		tokens:      tokens,
		followups:   module.NewFollowUpStore(followUpTTL),
		unreadLimit: 5,
		pollCron:    "* * * * *",
		watch:       newWatchList(),
	}
}

// Initialize applies module configuration.
func (m *Module) Initialize(config map[string]string) error {
	if v, ok := config["unread_limit"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("email: invalid unread_limit %q", v)
		}
		m.unreadLimit = n
	}
	if v, ok := config["poll_cron"]; ok && v != "" {
		m.pollCron = v
	}
	return nil
}

// CanHandle short-circuits to maximal confidence while a follow-up question
// is pending for this user, so the dispatcher routes the answer back here.
func (m *Module) CanHandle(_ context.Context, input string, user *module.UserContext) float64 {
	if user != nil {
		if _, ok := m.followups.Peek(user.UserID); ok {
			return 1.0
		}
	}
	score := dispatch.ScorePhrases(input, m.SupportedCommands())
	if score < 0.4 && containsAny(strings.ToLower(input), "email", "inbox", "mailbox") {
		score = 0.4
	}
	return score
}

// Handle interprets the input either as an answer to this module's previous
// question or as a fresh mail command.
func (m *Module) Handle(ctx context.Context, input string, user *module.UserContext) (*module.Response, error) {
	if user == nil {
		return module.Fail("I need to know who you are before touching a mailbox.", module.ErrCodeInvalidCommand), nil
	}
	m.watch.add(user)

	if pending, ok := m.followups.Take(user.UserID); ok {
		return m.handleFollowUp(ctx, pending, input, user)
	}

	in := dispatch.Normalize(input)
	switch {
	case containsAny(in, "read", "check", "unread", "inbox"):
		return m.readUnread(ctx, user)
	case strings.HasPrefix(in, "send"):
		return m.startCompose(user, in)
	default:
		return module.Fail("I'm not sure how to help with that email request.", module.ErrCodeNotUnderstood), nil
	}
}

// readUnread lists unread mail and arms the after-read follow-up on the
// newest message.
func (m *Module) readUnread(ctx context.Context, user *module.UserContext) (*module.Response, error) {
	token, err := m.tokens.AccessToken(ctx, user)
	if err != nil {
		return module.Fail("I couldn't access your mailbox credentials. Try signing in again.", "MAIL_AUTH_FAILED"), nil
	}

	mails, err := m.client.Unread(ctx, token, m.unreadLimit)
	if err != nil {
		return nil, fmt.Errorf("email: list unread: %w", err)
	}
	if len(mails) == 0 {
		return module.OK("Your inbox is clear — no unread emails."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d unread email(s):\n", len(mails))
	for i, mail := range mails {
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, mail.From, mail.Subject)
	}
	newest := mails[0]

	m.followups.Arm(user.UserID, &module.Pending{
		Kind:   pendingAfterRead,
		Entity: newest.ID,
		Extra:  map[string]string{"from": newest.From, "subject": newest.Subject},
	})

	resp := module.OK(b.String()).
		WithData(map[string]interface{}{"unread": mails}).
		WithSuggestions("reply", "delete", "ignore").
		AskFollowUp(fmt.Sprintf("The newest is from %s: %q. Reply, delete, or ignore?", newest.From, newest.Subject))
	return resp, nil
}

// handleFollowUp consumes a pending entry. Unrecognized answers produce a
// corrective prompt and re-arm the same pending state.
func (m *Module) handleFollowUp(ctx context.Context, pending *module.Pending, input string, user *module.UserContext) (*module.Response, error) {
	answer := dispatch.Normalize(input)

	switch pending.Kind {
	case pendingAfterRead:
		switch {
		case containsAny(answer, "reply", "respond", "answer"):
			m.followups.Arm(user.UserID, &module.Pending{
				Kind:   pendingReplyBody,
				Entity: pending.Entity,
				Extra:  pending.Extra,
			})
			return module.OK("What should the reply say?").AskFollowUp("Dictate the reply and I'll send it."), nil
		case containsAny(answer, "delete", "remove", "trash"):
			m.followups.Arm(user.UserID, &module.Pending{
				Kind:   pendingConfirmDelete,
				Entity: pending.Entity,
				Extra:  pending.Extra,
			})
			return module.OK(fmt.Sprintf("Delete %q from %s? (yes/no)", pending.Extra["subject"], pending.Extra["from"])).
				AskFollowUp("yes or no?"), nil
		case containsAny(answer, "ignore", "skip", "no", "nothing"):
			return module.OK("Okay, leaving your inbox as it is."), nil
		default:
			m.followups.Arm(user.UserID, pending) // re-arm, answer didn't match
			return module.OK("I didn't catch that — you can say reply, delete, or ignore.").
				AskFollowUp("Reply, delete, or ignore?"), nil
		}

	case pendingReplyBody:
		token, err := m.tokens.AccessToken(ctx, user)
		if err != nil {
			return module.Fail("I couldn't access your mailbox credentials to send that reply.", "MAIL_AUTH_FAILED"), nil
		}
		subject := "Re: " + pending.Extra["subject"]
		if err := m.client.Send(ctx, token, pending.Extra["from"], subject, input); err != nil {
			return nil, fmt.Errorf("email: send reply: %w", err)
		}
		return module.OK(fmt.Sprintf("Reply sent to %s.", pending.Extra["from"])), nil

	case pendingConfirmDelete:
		switch {
		case answer == "yes" || answer == "y" || strings.HasPrefix(answer, "yes"):
			token, err := m.tokens.AccessToken(ctx, user)
			if err != nil {
				return module.Fail("I couldn't access your mailbox credentials to delete that.", "MAIL_AUTH_FAILED"), nil
			}
			if err := m.client.Delete(ctx, token, pending.Entity); err != nil {
				return nil, fmt.Errorf("email: delete %s: %w", pending.Entity, err)
			}
			return module.OK("Deleted."), nil
		case answer == "no" || answer == "n" || strings.HasPrefix(answer, "no"):
			return module.OK("Okay, leaving it alone."), nil
		default:
			m.followups.Arm(user.UserID, pending)
			return module.OK("That needs a yes or a no.").AskFollowUp("Delete it? (yes/no)"), nil
		}

	case pendingComposeTo:
		m.followups.Arm(user.UserID, &module.Pending{
			Kind:  pendingComposeSubj,
			Extra: map[string]string{"to": strings.TrimSpace(input)},
		})
		return module.OK("What's the subject?").AskFollowUp("Subject line?"), nil

	case pendingComposeSubj:
		pending.Extra["subject"] = strings.TrimSpace(input)
		m.followups.Arm(user.UserID, &module.Pending{Kind: pendingComposeBody, Extra: pending.Extra})
		return module.OK("And what should it say?").AskFollowUp("Dictate the body and I'll send it."), nil

	case pendingComposeBody:
		token, err := m.tokens.AccessToken(ctx, user)
		if err != nil {
			return module.Fail("I couldn't access your mailbox credentials to send that.", "MAIL_AUTH_FAILED"), nil
		}
		if err := m.client.Send(ctx, token, pending.Extra["to"], pending.Extra["subject"], input); err != nil {
			return nil, fmt.Errorf("email: send: %w", err)
		}
		return module.OK(fmt.Sprintf("Email sent to %s.", pending.Extra["to"])), nil
	}

	// Unknown pending kind: stale state from an older build. Drop it and
	// treat the input as a fresh command.
	return m.Handle(ctx, input, user)
}

// startCompose begins the interactive compose chain, pre-filling the
// recipient when the command named one ("send an email to ada@example.com").
func (m *Module) startCompose(user *module.UserContext, in string) (*module.Response, error) {
	if idx := strings.Index(in, " to "); idx >= 0 {
		to := strings.TrimSpace(in[idx+4:])
		if to != "" {
			m.followups.Arm(user.UserID, &module.Pending{
				Kind:  pendingComposeSubj,
				Extra: map[string]string{"to": to},
			})
			return module.OK(fmt.Sprintf("Email to %s — what's the subject?", to)).AskFollowUp("Subject line?"), nil
		}
	}
	m.followups.Arm(user.UserID, &module.Pending{Kind: pendingComposeTo, Extra: map[string]string{}})
	return module.OK("Who should receive it?").AskFollowUp("Recipient address?"), nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var _ module.Module = (*Module)(nil)
