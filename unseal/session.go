package unseal

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/ruteri/sealed-keymaster/cryptoutils"
	"github.com/ruteri/sealed-keymaster/interfaces"
	"github.com/ruteri/sealed-keymaster/keymaster"
	"github.com/ruteri/sealed-keymaster/kms"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("unseal: building CBOR encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: kms.MaxShares,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("unseal: building CBOR decoder: %v", err))
	}
}

// Session is the initiator's state between sending requests and collecting
// responses. Keys holds the ephemeral key issued to each non-self keymaster,
// indexed by the keymaster's ref string.
type Session struct {
	ID        string            `cbor:"id"`
	Keyname   string            `cbor:"keyname"`
	Initiator string            `cbor:"initiator"`
	Quorum    []string          `cbor:"quorum"`
	Keys      map[string][]byte `cbor:"keys"`
	CreatedAt time.Time         `cbor:"created_at"`
}

func newSession(id interfaces.Identity, quorum []keymaster.Ref, now time.Time) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Keyname:   id.Keyname,
		Initiator: id.Me,
		Quorum:    make([]string, 0, len(quorum)),
		Keys:      make(map[string][]byte),
		CreatedAt: now.UTC(),
	}
	for _, ref := range quorum {
		s.Quorum = append(s.Quorum, ref.String())
	}
	return s
}

// Refs parses the quorum back into keymaster refs.
func (s *Session) Refs() ([]keymaster.Ref, error) {
	refs := make([]keymaster.Ref, 0, len(s.Quorum))
	for _, str := range s.Quorum {
		ref, err := keymaster.ParseRef(str)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *Session) wipe() {
	for ref, key := range s.Keys {
		cryptoutils.WipeBytes(key)
		delete(s.Keys, ref)
	}
}

// sealSession encodes the session and seals it under the unseal passphrase.
func sealSession(s *Session, passphrase string) (string, error) {
	data, err := encMode.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode unseal session: %w", err)
	}
	defer cryptoutils.WipeBytes(data)

	envelope, err := cryptoutils.SealWithPassword(passphrase, data)
	if err != nil {
		return "", err
	}
	return cryptoutils.EncodeEnvelope(envelope), nil
}

func openSession(text, passphrase string) (*Session, error) {
	envelope, err := cryptoutils.DecodeEnvelope(text)
	if err != nil {
		return nil, err
	}
	data, err := cryptoutils.OpenWithPassword(passphrase, envelope)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.WipeBytes(data)

	var s Session
	if err := decMode.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: unseal session: %v", interfaces.ErrDecode, err)
	}
	for ref, key := range s.Keys {
		if len(key) != cryptoutils.KeySize {
			return nil, fmt.Errorf("%w: unseal session key for %s has %d bytes", interfaces.ErrDecode, ref, len(key))
		}
	}
	return &s, nil
}
