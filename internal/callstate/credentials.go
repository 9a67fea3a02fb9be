// Package callstate drives one participant's side of a call: device capture,
// negotiation, compositing, chunked recording upload and finalize. It is the
// reference implementation of the client protocol, used headless in tests and
// embeddable in native capture agents.
package callstate

import "sync"

// CredentialSource ranks where a bearer credential came from. A credential
// only replaces the current one when its source ranks at least as high, so a
// late page-storage read can never clobber a credential pushed by the
// embedding parent window.
type CredentialSource int

const (
	SourceSeeded CredentialSource = iota + 1
	SourceStorage
	SourceURL
	SourceMessage
)

// CredentialProvider is the single mutation point for the recording
// credential. Interested parties subscribe rather than polling ambient state.
type CredentialProvider struct {
	mu       sync.Mutex
	value    string
	source   CredentialSource
	onChange []func(string)
}

func NewCredentialProvider() *CredentialProvider {
	return &CredentialProvider{}
}

// Set installs a credential. Empty values and lower-ranked sources are
// ignored. Returns whether the credential was accepted.
func (p *CredentialProvider) Set(source CredentialSource, value string) bool {
	if value == "" {
		return false
	}
	p.mu.Lock()
	if p.source > source {
		p.mu.Unlock()
		return false
	}
	p.value = value
	p.source = source
	subs := make([]func(string), len(p.onChange))
	copy(subs, p.onChange)
	p.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
	return true
}

func (p *CredentialProvider) Get() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// OnChange registers fn to run after every accepted Set.
func (p *CredentialProvider) OnChange(fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}
