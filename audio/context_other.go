//go:build !linux

package audio

func NewContext() (Context, error) {
	return NewMalgoContext()
}
