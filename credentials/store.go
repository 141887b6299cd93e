package credentials

import "sync"

// Store holds the live Credential for the process. It is the single source of
// session state: the refresh coordinator and the login/logout flow write it,
// everything else only reads. Replace and Clear swap the whole credential so
// readers never observe a partial update.
type Store struct {
	lock sync.RWMutex
	cred *Credential
}

func NewStore() *Store {
	return &Store{}
}

// Current returns a copy of the live credential, or false when logged out.
func (s *Store) Current() (Credential, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.cred == nil {
		return Credential{}, false
	}
	return *s.cred, true
}

// Replace installs a new credential, discarding any previous one.
func (s *Store) Replace(cred *Credential) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if cred == nil {
		s.cred = nil
		return
	}
	copied := *cred
	s.cred = &copied
}

// Clear destroys the credential. Called on logout and on terminal auth failure.
func (s *Store) Clear() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.cred = nil
}
