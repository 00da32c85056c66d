// Package unseal runs the handshake that lets a quorum of keymasters rebuild
// the shared secret at one party, the initiator, without any shard crossing
// the shared store in the clear.
//
// The initiator writes one request per other keymaster: a fresh ephemeral key
// sealed under a passphrase shared out of band. Each approver opens its
// request, seals its own share under the ephemeral key and writes it back as
// a response. The initiator then combines its own shard with every response
// that has arrived so far, and may retry as more responses land.
package unseal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/sealed-keymaster/cryptoutils"
	"github.com/ruteri/sealed-keymaster/custody"
	"github.com/ruteri/sealed-keymaster/interfaces"
	"github.com/ruteri/sealed-keymaster/keymaster"
	"github.com/ruteri/sealed-keymaster/kms"
	"go.uber.org/atomic"
)

// State is the coordinator's position in the handshake.
type State int32

const (
	StateIdle State = iota
	StateAwaitingResponses
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateAwaitingResponses:
		return "AWAITING_RESPONSES"
	case StateComplete:
		return "COMPLETE"
	default:
		return "IDLE"
	}
}

// Coordinator owns at most one unseal session on the initiating side.
type Coordinator struct {
	store     interfaces.ArtifactStore
	custodian *custody.Custodian
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	session *Session
	state   *atomic.Int32
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(store interfaces.ArtifactStore, custodian *custody.Custodian, log *slog.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		custodian: custodian,
		log:       log,
		now:       time.Now,
		state:     atomic.NewInt32(int32(StateIdle)),
	}
}

// State is safe to call while another goroutine runs a handshake step.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Session returns a copy of the live session without its keys, or nil.
func (c *Coordinator) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	s := *c.session
	s.Quorum = append([]string(nil), c.session.Quorum...)
	s.Keys = nil
	return &s
}

func sessionFile(keyname string) string {
	return keymaster.FileName(keyname, "", interfaces.SessionArtifact)
}

func requestFile(keyname string, ref keymaster.Ref) string {
	return keymaster.FileName(keyname, ref.Suffix(), interfaces.RequestArtifact)
}

func responseFile(keyname string, ref keymaster.Ref) string {
	return keymaster.FileName(keyname, ref.Suffix(), interfaces.ResponseArtifact)
}

// Initiate starts a session for quorum: it writes a request for every other
// keymaster and persists the session under passphrase at
// me/{keyname}.unseal.
func (c *Coordinator) Initiate(ctx context.Context, id interfaces.Identity, quorum []keymaster.Ref, passphrase string) (*Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if len(quorum) == 0 {
		return nil, fmt.Errorf("%w: no keymasters given", interfaces.ErrInvalidArgument)
	}
	if err := keymaster.Unique(quorum); err != nil {
		return nil, err
	}
	if passphrase == "" {
		return nil, fmt.Errorf("%w: the unseal passphrase cannot be empty", interfaces.ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil, fmt.Errorf("%w: an unseal for %s is already in progress", interfaces.ErrSessionExists, c.session.Keyname)
	}

	session := newSession(id, quorum, c.now())

	var written []keymaster.Ref
	for _, ref := range quorum {
		if ref.IsSelf(id.Me) {
			continue
		}

		key, err := cryptoutils.NewSymmetricKey()
		if err != nil {
			c.rollback(ctx, id, session, written)
			return nil, err
		}
		session.Keys[ref.String()] = key

		request, err := cryptoutils.SealWithPassword(passphrase, key)
		if err != nil {
			c.rollback(ctx, id, session, written)
			return nil, err
		}

		folder := ref.Folder(id.Me)
		name := requestFile(id.Keyname, ref)
		if err := c.store.Write(ctx, folder, name, []byte(cryptoutils.EncodeEnvelope(request)+"\n")); err != nil {
			c.rollback(ctx, id, session, written)
			return nil, fmt.Errorf("%w: %s/%s: %w", interfaces.ErrWriteFailure, folder, name, err)
		}
		written = append(written, ref)
		c.log.Info("unseal request written", "keymaster", ref.String(), "folder", folder)
	}

	sealed, err := sealSession(session, passphrase)
	if err != nil {
		c.rollback(ctx, id, session, written)
		return nil, err
	}
	if err := c.store.Write(ctx, id.Me, sessionFile(id.Keyname), []byte(sealed+"\n")); err != nil {
		// The session still works in memory, it just cannot be resumed.
		c.log.Warn("could not persist unseal session", "err", err)
	}

	c.session = session
	c.state.Store(int32(StateAwaitingResponses))
	c.log.Info("unseal initiated", "session", session.ID, "keyname", session.Keyname, "requests", len(written))

	s := *session
	s.Keys = nil
	return &s, nil
}

func (c *Coordinator) rollback(ctx context.Context, id interfaces.Identity, session *Session, written []keymaster.Ref) {
	for _, ref := range written {
		if err := c.store.Delete(ctx, ref.Folder(id.Me), requestFile(id.Keyname, ref)); err != nil {
			c.log.Warn("could not remove unseal request", "keymaster", ref.String(), "err", err)
		}
	}
	session.wipe()
}

// Resume reloads the session persisted by Initiate, for example after a
// restart. A wrong passphrase fails with ErrIntegrity.
func (c *Coordinator) Resume(ctx context.Context, id interfaces.Identity, passphrase string) (*Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil, fmt.Errorf("%w: an unseal for %s is already in progress", interfaces.ErrSessionExists, c.session.Keyname)
	}

	data, err := c.store.Read(ctx, id.Me, sessionFile(id.Keyname))
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("%w: no saved unseal for %s", interfaces.ErrNoSession, id.Keyname)
	}
	if err != nil {
		return nil, err
	}

	session, err := openSession(string(data), passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to open saved unseal: %w", err)
	}
	if session.Keyname != id.Keyname || session.Initiator != id.Me {
		session.wipe()
		return nil, fmt.Errorf("%w: saved unseal belongs to %s/%s", interfaces.ErrDecode, session.Initiator, session.Keyname)
	}

	c.session = session
	c.state.Store(int32(StateAwaitingResponses))
	c.log.Info("unseal resumed", "session", session.ID, "created", session.CreatedAt)

	s := *session
	s.Keys = nil
	return &s, nil
}

// Saved reports whether a persisted session exists for id.
func (c *Coordinator) Saved(ctx context.Context, id interfaces.Identity) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	return c.store.Exists(ctx, id.Me, sessionFile(id.Keyname))
}

// Complete tries to rebuild the secret from the initiator's own shards and
// the responses that have arrived. Missing responses are skipped, as are
// responses that do not open under their ephemeral key. With fewer than two
// shares the attempt fails with ErrInsufficientShards before the operator is
// asked for anything; the session stays open for a retry.
func (c *Coordinator) Complete(ctx context.Context, id interfaces.Identity, prompter interfaces.Prompter) ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	session := c.session
	if session == nil {
		return nil, interfaces.ErrNoSession
	}
	if session.Keyname != id.Keyname || session.Initiator != id.Me {
		return nil, fmt.Errorf("%w: the unseal in progress is for %s as %s", interfaces.ErrInvalidArgument, session.Keyname, session.Initiator)
	}

	refs, err := session.Refs()
	if err != nil {
		return nil, err
	}

	var (
		shares   [][]byte
		consumed []keymaster.Ref
		own      []keymaster.Ref
	)
	defer func() {
		for _, share := range shares {
			cryptoutils.WipeBytes(share)
		}
	}()

	for _, ref := range refs {
		if ref.IsSelf(id.Me) {
			own = append(own, ref)
			continue
		}

		share, err := c.openResponse(ctx, id, session, ref)
		if err != nil {
			return nil, err
		}
		if share == nil {
			continue
		}
		shares = append(shares, share)
		consumed = append(consumed, ref)
	}

	available := len(shares) + len(own)
	if available < 2 {
		return nil, fmt.Errorf("%w: %d of %d keymasters available", interfaces.ErrInsufficientShards, available, len(refs))
	}

	// The initiator may hold several shards of the quorum, one per
	// discriminator, each under its own password.
	for _, ref := range own {
		password, err := prompter.Password(ctx, ownShardPrompt(ref))
		if err != nil {
			return nil, err
		}
		share, err := c.custodian.ReadShard(ctx, id, ref.Discriminator, password)
		if err != nil {
			return nil, fmt.Errorf("failed to read your shard %s: %w", ref, err)
		}
		shares = append(shares, share)
	}

	secret, err := kms.CombineSecret(shares)
	if err != nil {
		c.log.Warn("unseal attempt failed", "session", session.ID, "shares", len(shares), "err", err)
		return nil, err
	}

	for _, ref := range consumed {
		if err := c.store.Delete(ctx, ref.Folder(id.Me), responseFile(id.Keyname, ref)); err != nil {
			c.log.Warn("could not remove consumed unseal response", "keymaster", ref.String(), "err", err)
		}
	}
	if err := c.store.Delete(ctx, id.Me, sessionFile(id.Keyname)); err != nil {
		c.log.Warn("could not remove saved unseal session", "err", err)
	}

	session.wipe()
	c.session = nil
	c.state.Store(int32(StateComplete))
	c.log.Info("unseal complete", "session", session.ID, "shares", len(shares))
	return secret, nil
}

func ownShardPrompt(ref keymaster.Ref) string {
	if ref.Discriminator == "" {
		return "Password for your key shard: "
	}
	return fmt.Sprintf("Password for your key shard %s: ", ref)
}

// openResponse returns nil without an error when ref has not answered or its
// response does not open.
func (c *Coordinator) openResponse(ctx context.Context, id interfaces.Identity, session *Session, ref keymaster.Ref) ([]byte, error) {
	folder := ref.Folder(id.Me)
	name := responseFile(id.Keyname, ref)

	data, err := c.store.Read(ctx, folder, name)
	if errors.Is(err, interfaces.ErrNotFound) {
		c.log.Debug("no unseal response yet", "keymaster", ref.String())
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	key, ok := session.Keys[ref.String()]
	if !ok {
		c.log.Warn("unseal response from a keymaster without a request", "keymaster", ref.String())
		return nil, nil
	}

	envelope, err := cryptoutils.DecodeEnvelope(string(data))
	if err == nil {
		var share []byte
		share, err = cryptoutils.Open(key, envelope)
		if err == nil {
			return share, nil
		}
	}
	c.log.Warn("ignoring unseal response that does not open", "keymaster", ref.String(), "path", folder+"/"+name, "err", err)
	return nil, nil
}

// Pending lists the keymasters of the live session that have not responded.
func (c *Coordinator) Pending(ctx context.Context, id interfaces.Identity) ([]keymaster.Ref, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, interfaces.ErrNoSession
	}
	refs, err := c.session.Refs()
	if err != nil {
		return nil, err
	}

	var pending []keymaster.Ref
	for _, ref := range refs {
		if ref.IsSelf(id.Me) {
			continue
		}
		found, err := c.store.Exists(ctx, ref.Folder(id.Me), responseFile(id.Keyname, ref))
		if err != nil {
			return nil, err
		}
		if !found {
			pending = append(pending, ref)
		}
	}
	return pending, nil
}

// Abandon drops the live session, removes its outstanding requests and the
// saved copy, and returns to idle. It fails with ErrNoSession when there is
// neither a live nor a saved session.
func (c *Coordinator) Abandon(ctx context.Context, id interfaces.Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	saved, err := c.store.Exists(ctx, id.Me, sessionFile(id.Keyname))
	if err != nil {
		return err
	}
	if c.session == nil && !saved {
		return interfaces.ErrNoSession
	}

	var errs []error
	if c.session != nil {
		refs, err := c.session.Refs()
		if err != nil {
			errs = append(errs, err)
		}
		for _, ref := range refs {
			if ref.IsSelf(id.Me) {
				continue
			}
			if err := c.store.Delete(ctx, ref.Folder(id.Me), requestFile(c.session.Keyname, ref)); err != nil {
				errs = append(errs, err)
			}
		}
		c.session.wipe()
		c.session = nil
	}
	if saved {
		if err := c.store.Delete(ctx, id.Me, sessionFile(id.Keyname)); err != nil {
			errs = append(errs, err)
		}
	}

	c.state.Store(int32(StateIdle))
	c.log.Info("unseal abandoned", "keyname", id.Keyname)
	return errors.Join(errs...)
}
