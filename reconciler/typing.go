package reconciler

import (
	"time"

	"golang.org/x/time/rate"

	"guru-chat/models"
)

// typingTimer clears an inbound typing indicator. token ties the timer to the event
// that armed it so a superseded timer cannot clear a newer indicator.
type typingTimer struct {
	token uint64
	timer *time.Timer
}

// outboundTyping tracks the local user's typing state for one chat.
type outboundTyping struct {
	agentID string
	limiter *rate.Limiter
	seq     uint64
	timer   *time.Timer
}

func (o *outboundTyping) stopTimer() {
	if o.timer != nil {
		o.timer.Stop()
	}
}

func (r *Reconciler) onTyping(ev models.TypingEvent) error {
	store := r.activeStore()
	if store == nil {
		return nil
	}
	d := ev.Data
	if uid := r.userID(); uid != "" && d.UserID == uid {
		return nil
	}

	if !d.IsTyping {
		r.cancelTyping(d.ChatID)
		store.SetTyping(d.ChatID, false)
		return nil
	}

	if !store.SetTyping(d.ChatID, true) && store.CurrentChatID() != d.ChatID {
		return nil
	}
	r.armTyping(d.ChatID)
	return nil
}

func (r *Reconciler) armTyping(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if t := r.typing[chatID]; t != nil {
		t.timer.Stop()
	}
	r.typingSeq++
	token := r.typingSeq
	r.typing[chatID] = &typingTimer{
		token: token,
		timer: time.AfterFunc(r.cfg.TypingTimeout, func() { r.expireTyping(chatID, token) }),
	}
}

func (r *Reconciler) expireTyping(chatID string, token uint64) {
	r.mu.Lock()
	t := r.typing[chatID]
	if r.stopped || t == nil || t.token != token {
		r.mu.Unlock()
		return
	}
	delete(r.typing, chatID)
	store := r.store
	r.mu.Unlock()

	store.SetTyping(chatID, false)
}

func (r *Reconciler) cancelTyping(chatID string) {
	r.mu.Lock()
	if t := r.typing[chatID]; t != nil {
		t.timer.Stop()
		delete(r.typing, chatID)
	}
	r.mu.Unlock()
}

// NotifyTyping reports that the local user is typing in chatID. Start frames are sent
// at most once per second; a stop frame follows automatically after the typing timeout
// without another call. Nothing is sent or queued while disconnected.
func (r *Reconciler) NotifyTyping(chatID, agentID string) {
	if !r.conn.IsConnected() {
		return
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	o := r.outbound[chatID]
	if o == nil {
		o = &outboundTyping{limiter: rate.NewLimiter(rate.Every(time.Second), 1)}
		r.outbound[chatID] = o
	}
	o.agentID = agentID
	send := o.limiter.Allow()
	o.stopTimer()
	o.seq++
	seq := o.seq
	o.timer = time.AfterFunc(r.cfg.TypingTimeout, func() { r.expireOutbound(chatID, seq) })
	r.mu.Unlock()

	if send {
		r.sendTyping(chatID, agentID, true)
	}
}

// StopTyping sends the stop frame now if a start is outstanding.
func (r *Reconciler) StopTyping(chatID string) {
	r.mu.Lock()
	o := r.outbound[chatID]
	if o == nil {
		r.mu.Unlock()
		return
	}
	o.stopTimer()
	delete(r.outbound, chatID)
	r.mu.Unlock()

	r.sendTyping(chatID, o.agentID, false)
}

func (r *Reconciler) expireOutbound(chatID string, seq uint64) {
	r.mu.Lock()
	o := r.outbound[chatID]
	if r.stopped || o == nil || o.seq != seq {
		r.mu.Unlock()
		return
	}
	delete(r.outbound, chatID)
	r.mu.Unlock()

	r.sendTyping(chatID, o.agentID, false)
}

func (r *Reconciler) sendTyping(chatID, agentID string, typing bool) {
	if !r.conn.IsConnected() {
		return
	}
	_, err := r.conn.SendTyping(models.TypingData{
		ChatID:   chatID,
		UserID:   r.userID(),
		AgentID:  agentID,
		IsTyping: typing,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to send typing indicator")
	}
}
