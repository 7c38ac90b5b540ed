package rest

import (
	"context"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/platform"
)

const (
	eventBuffer      = 100
	gatewayOffsetKey = "gateway_offset"
)

// offsetStore keeps the gateway offset cursor across restarts, so a crash
// between polls does not replay already-handled events.
type offsetStore interface {
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key, value string) error
}

type gatewayEvent struct {
	Offset     int64                `json:"offset"`
	Kind       platform.EventKind   `json:"kind"`
	Message    *platform.Message    `json:"message,omitempty"`
	Reaction   *platform.Reaction   `json:"reaction,omitempty"`
	MemberJoin *platform.MemberJoin `json:"member_join,omitempty"`
}

// GetEventsChans long-polls the gateway and fans events out over a channel,
// advancing the offset cursor after each delivered batch. The cursor is
// persisted through store after every batch and loaded back on startup. The
// error channel receives at most one error, after which both channels are
// closed.
func GetEventsChans(ctx context.Context, c *Client, store offsetStore) (<-chan platform.Event, <-chan error) {
	ch := make(chan platform.Event, eventBuffer)
	chErr := make(chan error, 1)
	logger := log.WithField("context", "gateway_events")

	go func() {
		defer close(ch)
		defer close(chErr)
		offset := loadOffset(ctx, store, logger)
		for {
			select {
			case <-ctx.Done():
				chErr <- ctx.Err()
				return
			default:
				var batch []gatewayEvent
				path := "/gateway/events?timeout=50&offset=" + strconv.FormatInt(offset, 10)
				if err := c.do(ctx, "get_events", http.MethodGet, path, nil, &batch); err != nil {
					if platform.IsTransient(err) {
						continue
					}
					chErr <- err
					return
				}

				delivered := false
				for _, raw := range batch {
					if raw.Offset >= offset {
						offset = raw.Offset + 1
						delivered = true
						ev := platform.Event{
							Kind:       raw.Kind,
							Message:    raw.Message,
							Reaction:   raw.Reaction,
							MemberJoin: raw.MemberJoin,
						}
						select {
						case ch <- ev:
						case <-ctx.Done():
							chErr <- ctx.Err()
							return
						}
					}
				}
				if delivered {
					if err := store.SetKV(ctx, gatewayOffsetKey, strconv.FormatInt(offset, 10)); err != nil {
						logger.WithError(err).Warn("cant persist gateway offset")
					}
				}
			}
		}
	}()

	return ch, chErr
}

func loadOffset(ctx context.Context, store offsetStore, logger *log.Entry) int64 {
	raw, err := store.GetKV(ctx, gatewayOffsetKey)
	if err != nil {
		logger.WithError(err).Warn("cant load gateway offset, starting from zero")
		return 0
	}
	if raw == "" {
		return 0
	}
	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.WithError(err).Warn("stored gateway offset is garbage, starting from zero")
		return 0
	}
	return offset
}
