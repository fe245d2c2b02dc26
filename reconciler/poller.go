package reconciler

import (
	"context"
	"time"

	"guru-chat/models"
)

// RunPoller fetches new messages for the current chat every poll interval while the
// socket is down. It returns when ctx is done.
func (r *Reconciler) RunPoller(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if r.conn.IsConnected() {
			continue
		}
		r.pollOnce(ctx)
	}
}

func (r *Reconciler) pollOnce(ctx context.Context) {
	store := r.activeStore()
	if store == nil {
		return
	}
	sess, ok := store.Current()
	if !ok {
		return
	}

	msgs, err := r.rest.PollMessages(ctx, sess.ChatID, lastConfirmedID(sess.Messages))
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn().Err(err).Str("chat_id", sess.ChatID).Msg("poll failed")
		}
		return
	}
	if added := store.ApplyPolled(sess.ChatID, msgs); added > 0 {
		r.logger.Debug().Int("added", added).Str("chat_id", sess.ChatID).Msg("polled new messages")
	}
}

func lastConfirmedID(msgs []models.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].State == models.Confirmed {
			return msgs[i].ID
		}
	}
	return ""
}
