// Package bot turns gateway events into engine calls: classifier verdicts and
// emoji flags feed the escalation engine, prefixed messages run the command
// surface.
package bot

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/classifier"
	"github.com/iamwavecut/warden/internal/config"
	"github.com/iamwavecut/warden/internal/db"
	werr "github.com/iamwavecut/warden/internal/errors"
	"github.com/iamwavecut/warden/internal/eventspace"
	"github.com/iamwavecut/warden/internal/moderation"
	"github.com/iamwavecut/warden/internal/platform"
	"github.com/iamwavecut/warden/internal/reconcile"
)

const commandPrefix = "!"

// reactionReportWeight is the fixed severity of a moderator emoji flag.
const reactionReportWeight = 1

type messenger interface {
	SendMessage(ctx context.Context, channelID, text string) error
}

type Dispatcher struct {
	cfg        config.Config
	moderation moderation.Service
	spaces     *eventspace.Manager
	sweeper    reconcile.Service
	judge      classifier.Classifier
	out        messenger
	logger     *log.Entry
}

func NewDispatcher(cfg config.Config, mod moderation.Service, spaces *eventspace.Manager, sweeper reconcile.Service, judge classifier.Classifier, out messenger) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		moderation: mod,
		spaces:     spaces,
		sweeper:    sweeper,
		judge:      judge,
		out:        out,
		logger:     log.WithField("context", "dispatcher"),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev platform.Event) error {
	switch ev.Kind {
	case platform.EventMessage:
		if ev.Message == nil {
			return nil
		}
		return d.handleMessage(ctx, ev.Message)
	case platform.EventReaction:
		if ev.Reaction == nil {
			return nil
		}
		return d.handleReaction(ctx, ev.Reaction)
	case platform.EventMemberJoin:
		if ev.MemberJoin == nil {
			return nil
		}
		d.logger.WithField("user_id", ev.MemberJoin.UserID).Debug("member joined")
		if d.cfg.WelcomeChannel != "" {
			d.reply(ctx, d.cfg.WelcomeChannel, fmt.Sprintf("Welcome, %s! Read the rules before posting.", ev.MemberJoin.Username))
		}
		return nil
	}
	d.logger.WithField("kind", ev.Kind).Debug("unhandled event kind")
	return nil
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *platform.Message) error {
	if msg.AuthorID == d.cfg.BotUserID {
		return nil
	}
	if strings.HasPrefix(msg.Text, commandPrefix) {
		return d.handleCommand(ctx, msg)
	}
	if d.isModerator(msg.AuthorID) {
		// staff messages are never auto-moderated
		return nil
	}

	verdict, err := d.judge.Classify(ctx, msg.Text)
	if err != nil {
		return err
	}
	if !verdict.Flagged {
		return nil
	}
	kind, _, err := d.moderation.Report(ctx, msg.AuthorID, verdict.Reason, verdict.Weight, moderation.IssuedBySystem)
	if err != nil {
		return err
	}
	if kind != db.KindNote {
		d.reply(ctx, msg.ChannelID, fmt.Sprintf("sanction applied: %s (%s)", kind, verdict.Reason))
	}
	return nil
}

// handleReaction turns a moderator's flag emoji into a weight-1 report against
// the message author.
func (d *Dispatcher) handleReaction(ctx context.Context, re *platform.Reaction) error {
	if !d.isModerator(re.ReactorID) {
		return nil
	}
	flagged := false
	for _, emoji := range d.cfg.Moderation.FlaggedEmojis {
		if re.Emoji == emoji {
			flagged = true
			break
		}
	}
	if !flagged {
		return nil
	}
	if err := d.guardSubject(re.MessageAuthorID, re.ReactorID); err != nil {
		d.logger.WithError(err).Debug("reaction flag skipped")
		return nil
	}
	_, _, err := d.moderation.Report(ctx, re.MessageAuthorID, "message flagged by moderator", reactionReportWeight, fmt.Sprintf("%d", re.ReactorID))
	return err
}

// guardSubject rejects sanction subjects that must never be sanctioned: the
// bot itself, the issuing moderator and other staff.
func (d *Dispatcher) guardSubject(subjectID, issuerID int64) error {
	if subjectID == d.cfg.BotUserID {
		return werr.Validation("the bot cannot be sanctioned")
	}
	if subjectID == issuerID {
		return werr.Validation("you cannot sanction yourself")
	}
	if d.isModerator(subjectID) {
		return werr.Validation("staff members cannot be sanctioned")
	}
	return nil
}

func (d *Dispatcher) isModerator(userID int64) bool {
	for _, id := range d.cfg.Moderators {
		if id == userID {
			return true
		}
	}
	return false
}

func (d *Dispatcher) reply(ctx context.Context, channelID, text string) {
	if err := d.out.SendMessage(ctx, channelID, text); err != nil {
		d.logger.WithError(err).Warn("cant send reply")
	}
}
