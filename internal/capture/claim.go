package capture

import (
	"fmt"
	"sync"
)

// claims tracks outputs duplicated by this process for backends whose platform
// does not enforce single ownership itself.
var claims = struct {
	sync.Mutex
	held map[string]struct{}
}{held: make(map[string]struct{})}

// ClaimOutput marks the output identified by key as duplicated. It fails with
// ErrNotCurrentlyAvailable while another claim on key is live. The returned
// release func is safe to call more than once.
func ClaimOutput(key string) (release func(), err error) {
	claims.Lock()
	defer claims.Unlock()

	if _, ok := claims.held[key]; ok {
		return nil, fmt.Errorf("output %s: %w", key, ErrNotCurrentlyAvailable)
	}
	claims.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			claims.Lock()
			delete(claims.held, key)
			claims.Unlock()
		})
	}, nil
}
