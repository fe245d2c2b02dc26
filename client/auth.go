package client

import (
	"sync"

	"guru-chat/models"
)

// StaticAuth is an Auth whose credentials are set directly, as the command line client
// does from its environment.
type StaticAuth struct {
	mu        sync.RWMutex
	token     string
	user      models.User
	signedIn  bool
	listeners []func(models.User, bool)
}

func NewStaticAuth() *StaticAuth {
	return &StaticAuth{}
}

func (a *StaticAuth) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *StaticAuth) CurrentUser() (models.User, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.user, a.signedIn
}

func (a *StaticAuth) OnAuthChange(fn func(models.User, bool)) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// SignIn stores the credentials and notifies listeners.
func (a *StaticAuth) SignIn(token string, user models.User) {
	a.mu.Lock()
	a.token, a.user, a.signedIn = token, user, true
	listeners := append([]func(models.User, bool){}, a.listeners...)
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(user, true)
	}
}

// SignOut clears the credentials and notifies listeners.
func (a *StaticAuth) SignOut() {
	a.mu.Lock()
	user := a.user
	a.token, a.user, a.signedIn = "", models.User{}, false
	listeners := append([]func(models.User, bool){}, a.listeners...)
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(user, false)
	}
}
