package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iamwavecut/warden/internal/db"
	werr "github.com/iamwavecut/warden/internal/errors"
	"github.com/iamwavecut/warden/internal/eventspace"
	"github.com/iamwavecut/warden/internal/platform"
)

func (d *Dispatcher) handleCommand(ctx context.Context, msg *platform.Message) error {
	fields := strings.Fields(strings.TrimPrefix(msg.Text, commandPrefix))
	if len(fields) == 0 {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch name {
	case "report":
		err = d.cmdReport(ctx, msg, args)
	case "warn":
		err = d.cmdManual(ctx, msg, db.KindWarn, false, args)
	case "mute":
		err = d.cmdManual(ctx, msg, db.KindMute, true, args)
	case "kick":
		err = d.cmdManual(ctx, msg, db.KindKick, false, args)
	case "ban":
		err = d.cmdBan(ctx, msg, args)
	case "revoke":
		err = d.cmdRevoke(ctx, msg, args)
	case "history":
		err = d.cmdHistory(ctx, msg, args)
	case "space":
		err = d.cmdSpace(ctx, msg, args)
	case "reconcile":
		err = d.cmdReconcile(ctx, msg)
	default:
		return nil
	}
	if err != nil {
		d.reply(ctx, msg.ChannelID, renderError(err))
	}
	return nil
}

func (d *Dispatcher) requireModerator(msg *platform.Message) error {
	if !d.isModerator(msg.AuthorID) {
		return werr.Validation("this command is reserved for moderators")
	}
	return nil
}

// !report <user> <weight> [reason]
func (d *Dispatcher) cmdReport(ctx context.Context, msg *platform.Message, args []string) error {
	if err := d.requireModerator(msg); err != nil {
		return err
	}
	if len(args) < 2 {
		return werr.Validation("usage: !report <user> <weight> [reason]")
	}
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	weight, err := strconv.Atoi(args[1])
	if err != nil {
		return werr.Validation("weight must be a number, got %q", args[1])
	}
	if err := d.guardSubject(userID, msg.AuthorID); err != nil {
		return err
	}
	kind, _, err := d.moderation.Report(ctx, userID, strings.Join(args[2:], " "), weight, fmt.Sprintf("%d", msg.AuthorID))
	if err != nil {
		return err
	}
	d.reply(ctx, msg.ChannelID, fmt.Sprintf("reported, resulting action: %s", kind))
	return nil
}

// !warn / !mute / !kick <user> [duration] [reason]
func (d *Dispatcher) cmdManual(ctx context.Context, msg *platform.Message, kind db.InfractionKind, timed bool, args []string) error {
	if err := d.requireModerator(msg); err != nil {
		return err
	}
	if len(args) < 1 {
		return werr.Validation("usage: !%s <user> %s[reason]", kind, map[bool]string{true: "<duration> ", false: ""}[timed])
	}
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	if err := d.guardSubject(userID, msg.AuthorID); err != nil {
		return err
	}
	args = args[1:]

	var duration time.Duration
	if timed {
		if len(args) < 1 {
			return werr.Validation("a %s needs a duration, e.g. 1h", kind)
		}
		duration, err = time.ParseDuration(args[0])
		if err != nil || duration <= 0 {
			return werr.Validation("bad duration %q", args[0])
		}
		args = args[1:]
	}

	if _, err := d.moderation.Manual(ctx, userID, kind, duration, strings.Join(args, " "), fmt.Sprintf("%d", msg.AuthorID)); err != nil {
		return err
	}
	d.reply(ctx, msg.ChannelID, fmt.Sprintf("%s applied to %d", kind, userID))
	return nil
}

// !ban <user> [duration] [reason]; without a duration the ban is permanent.
func (d *Dispatcher) cmdBan(ctx context.Context, msg *platform.Message, args []string) error {
	if err := d.requireModerator(msg); err != nil {
		return err
	}
	if len(args) < 1 {
		return werr.Validation("usage: !ban <user> [duration] [reason]")
	}
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	if err := d.guardSubject(userID, msg.AuthorID); err != nil {
		return err
	}
	args = args[1:]

	var duration time.Duration
	if len(args) > 0 {
		if parsed, perr := time.ParseDuration(args[0]); perr == nil {
			duration = parsed
			args = args[1:]
		}
	}

	if _, err := d.moderation.Manual(ctx, userID, db.KindBan, duration, strings.Join(args, " "), fmt.Sprintf("%d", msg.AuthorID)); err != nil {
		return err
	}
	d.reply(ctx, msg.ChannelID, fmt.Sprintf("ban applied to %d", userID))
	return nil
}

// !revoke <infraction-id>
func (d *Dispatcher) cmdRevoke(ctx context.Context, msg *platform.Message, args []string) error {
	if err := d.requireModerator(msg); err != nil {
		return err
	}
	if len(args) != 1 {
		return werr.Validation("usage: !revoke <infraction-id>")
	}
	if err := d.moderation.Revoke(ctx, args[0], fmt.Sprintf("%d", msg.AuthorID)); err != nil {
		return err
	}
	d.reply(ctx, msg.ChannelID, "infraction revoked")
	return nil
}

// !history <user>
func (d *Dispatcher) cmdHistory(ctx context.Context, msg *platform.Message, args []string) error {
	if err := d.requireModerator(msg); err != nil {
		return err
	}
	if len(args) != 1 {
		return werr.Validation("usage: !history <user>")
	}
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	infs, err := d.moderation.History(ctx, userID)
	if err != nil {
		return err
	}
	summary, err := d.moderation.Summary(ctx, userID)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "user %d, active summary weight %d, %d records\n", userID, summary, len(infs))
	for _, inf := range infs {
		status := ""
		switch {
		case inf.Revoked:
			status = " [revoked]"
		case inf.Expired:
			status = " [expired]"
		}
		fmt.Fprintf(&b, "%s  %s  w%d  by %s  %s%s\n", inf.IssuedAt.Format("2006-01-02 15:04"), inf.Kind, inf.Weight, inf.IssuedBy, inf.Reason, status)
	}
	d.reply(ctx, msg.ChannelID, b.String())
	return nil
}

// !space create <name> <password> | archive <name> | cancel <name> | join <name> <password>
func (d *Dispatcher) cmdSpace(ctx context.Context, msg *platform.Message, args []string) error {
	if len(args) < 2 {
		return werr.Validation("usage: !space <create|archive|cancel|join> <name> ...")
	}
	sub, name := strings.ToLower(args[0]), args[1]

	switch sub {
	case "create":
		if err := d.requireModerator(msg); err != nil {
			return err
		}
		if len(args) != 3 {
			return werr.Validation("usage: !space create <name> <password>")
		}
		sp, err := d.spaces.Create(ctx, name, msg.AuthorID, eventspace.DefaultDesired(strings.ToLower(name)), args[2])
		if err != nil {
			return err
		}
		d.reply(ctx, msg.ChannelID, fmt.Sprintf("event space %q is %s", sp.Name, sp.State))
		return nil
	case "archive":
		if err := d.requireModerator(msg); err != nil {
			return err
		}
		sp, err := d.lookupSpace(ctx, name)
		if err != nil {
			return err
		}
		if err := d.spaces.Archive(ctx, sp.ID); err != nil {
			return err
		}
		d.reply(ctx, msg.ChannelID, fmt.Sprintf("event space %q archived", sp.Name))
		return nil
	case "cancel":
		if err := d.requireModerator(msg); err != nil {
			return err
		}
		sp, err := d.lookupSpace(ctx, name)
		if err != nil {
			return err
		}
		if err := d.spaces.RequestCancel(ctx, sp.ID); err != nil {
			return err
		}
		d.reply(ctx, msg.ChannelID, fmt.Sprintf("cancellation of %q requested", sp.Name))
		return nil
	case "join":
		if len(args) != 3 {
			return werr.Validation("usage: !space join <name> <password>")
		}
		if err := d.spaces.Join(ctx, name, msg.AuthorID, args[2]); err != nil {
			return err
		}
		d.reply(ctx, msg.ChannelID, "welcome aboard, role granted")
		return nil
	}
	return werr.Validation("unknown subcommand %q", sub)
}

// !reconcile
func (d *Dispatcher) cmdReconcile(ctx context.Context, msg *platform.Message) error {
	if err := d.requireModerator(msg); err != nil {
		return err
	}
	report := d.sweeper.RunOnce(ctx)
	d.reply(ctx, msg.ChannelID, fmt.Sprintf(
		"sweep done: %d expired, %d replayed, %d resumed, %d repaired",
		report.Expired, report.Replayed, report.Resumed, report.Repaired,
	))
	return nil
}

func (d *Dispatcher) lookupSpace(ctx context.Context, name string) (*db.EventSpace, error) {
	return d.spaces.Lookup(ctx, name)
}

// parseUserID accepts a raw id or a mention of the form <@12345>.
func parseUserID(s string) (int64, error) {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<@"), ">")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, werr.Validation("bad user reference %q", s)
	}
	return id, nil
}

func renderError(err error) string {
	switch {
	case errors.Is(err, werr.ErrInvalidInput), errors.Is(err, werr.ErrConflict), errors.Is(err, werr.ErrNotFound):
		return err.Error()
	default:
		return "something went wrong, check the logs"
	}
}
