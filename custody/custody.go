// Package custody moves shards from their raw, shared form into the owner's
// private folder under a password, and reads them back.
//
// A RAW shard is the hex encoding of a share written by the splitting party
// to the folder it shares with the shard's owner. Accepting it seals the
// share with the owner's password, writes it to the owner's own folder and
// removes the raw copy. Verification opens the sealed shard and checks its
// digest.
package custody

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ruteri/sealed-keymaster/cryptoutils"
	"github.com/ruteri/sealed-keymaster/interfaces"
	"github.com/ruteri/sealed-keymaster/keymaster"
	"github.com/ruteri/sealed-keymaster/kms"
)

// State is the custody state of one shard.
type State int

const (
	// StateAbsent means no shard is visible at the expected location.
	StateAbsent State = iota
	// StateRaw means the plaintext shard sits in a shared folder.
	StateRaw
	// StateAccepted means the shard is password-sealed in its owner's folder.
	StateAccepted
)

func (s State) String() string {
	switch s {
	case StateRaw:
		return "RAW"
	case StateAccepted:
		return "ACCEPTED"
	default:
		return "ABSENT"
	}
}

// Custodian runs shard custody operations against the shared store.
type Custodian struct {
	store   interfaces.ArtifactStore
	console io.Writer
	log     *slog.Logger
}

// NewCustodian creates a custodian. console receives sealed shards that could
// not be written, so they can be saved by hand.
func NewCustodian(store interfaces.ArtifactStore, console io.Writer, log *slog.Logger) *Custodian {
	if console == nil {
		console = io.Discard
	}
	return &Custodian{store: store, console: console, log: log}
}

func shardFile(keyname, discriminator string) string {
	return keymaster.FileName(keyname, keymaster.Suffix(discriminator), interfaces.ShardArtifact)
}

// Distribute writes one RAW shard per keymaster, in order, to the folder the
// acting party shares with that keymaster. A shard that cannot be written is
// printed to the console for manual delivery, and the error names every
// shard that did not land.
func (c *Custodian) Distribute(ctx context.Context, id interfaces.Identity, refs []keymaster.Ref, shares [][]byte) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if len(refs) != len(shares) {
		return fmt.Errorf("%w: keymaster list must be the same length (%d) as the number of shards (%d)", interfaces.ErrInvalidArgument, len(refs), len(shares))
	}
	if err := keymaster.Unique(refs); err != nil {
		return err
	}

	var errs []error
	for i, ref := range refs {
		folder := ref.Folder(id.Me)
		name := shardFile(id.Keyname, ref.Discriminator)
		encoded := kms.EncodeShare(shares[i])
		if err := c.store.Write(ctx, folder, name, []byte(encoded+"\n")); err != nil {
			fmt.Fprintf(c.console, "Failed to write the shard for %s to %s/%s. Deliver it manually:\n%s\n", ref, folder, name, encoded)
			errs = append(errs, fmt.Errorf("%s/%s: %w", folder, name, err))
			continue
		}
		c.log.Info("raw shard written", "keymaster", ref.String(), "folder", folder)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %d of %d shards not written: %w", interfaces.ErrWriteFailure, len(errs), len(refs), errors.Join(errs...))
	}
	return nil
}

// Accept secures the RAW shard that splitter left for the acting party. The
// password is requested only once the shard has been found. It returns the
// destination as folder/name.
func (c *Custodian) Accept(ctx context.Context, id interfaces.Identity, splitter, discriminator string, prompter interfaces.Prompter) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	if splitter == "" {
		return "", fmt.Errorf("%w: keymaster is required", interfaces.ErrInvalidArgument)
	}

	name := shardFile(id.Keyname, discriminator)
	sourceFolder := keymaster.Folder(id.Me, splitter)
	destFolder := id.Me
	dest := destFolder + "/" + name

	raw, err := c.store.Read(ctx, sourceFolder, name)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return "", fmt.Errorf("%w: could not find shard at %s/%s", interfaces.ErrNotFound, sourceFolder, name)
		}
		return "", err
	}

	share, err := kms.DecodeShare(string(raw))
	if err != nil {
		if sourceFolder == destFolder {
			return "", fmt.Errorf("%w: %s is not a raw shard, it may already be accepted", interfaces.ErrNotFound, dest)
		}
		return "", err
	}
	defer cryptoutils.WipeBytes(share)

	c.log.Info("operating on raw shard", "folder", sourceFolder, "name", name)

	password, err := prompter.Password(ctx, "Choose a password to protect your key shard: ")
	if err != nil {
		return "", err
	}

	sealed, err := cryptoutils.SealWithPassword(password, share)
	if err != nil {
		return "", err
	}
	encoded := cryptoutils.EncodeEnvelope(sealed)

	if err := c.store.Write(ctx, destFolder, name, []byte(encoded+"\n")); err != nil {
		fmt.Fprintf(c.console, "Failed to write the secured shard to %s. Save it manually:\n%s\n", dest, encoded)
		return "", fmt.Errorf("%w: %w", interfaces.ErrWriteFailure, err)
	}

	if sourceFolder != destFolder {
		if err := c.store.Delete(ctx, sourceFolder, name); err != nil {
			return dest, fmt.Errorf("shard secured at %s but the raw copy at %s/%s could not be removed: %w", dest, sourceFolder, name, err)
		}
	}

	c.log.Info("shard accepted", "dest", dest)
	return dest, nil
}

// ReadShard opens the acting party's accepted shard. A wrong password or a
// corrupted file fails with ErrIntegrity.
func (c *Custodian) ReadShard(ctx context.Context, id interfaces.Identity, discriminator, password string) ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	name := shardFile(id.Keyname, discriminator)
	data, err := c.store.Read(ctx, id.Me, name)
	if err != nil {
		return nil, err
	}

	envelope, err := cryptoutils.DecodeEnvelope(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s/%s is not an accepted shard: %w", id.Me, name, err)
	}

	share, err := cryptoutils.OpenWithPassword(password, envelope)
	if err != nil {
		return nil, err
	}
	return share, nil
}

// Verify checks that the accepted shard opens with password.
func (c *Custodian) Verify(ctx context.Context, id interfaces.Identity, discriminator, password string) error {
	share, err := c.ReadShard(ctx, id, discriminator, password)
	if err != nil {
		return err
	}
	cryptoutils.WipeBytes(share)
	return nil
}

// Pending returns the keymasters other than the acting party whose RAW shard
// is still in the shared folder.
func (c *Custodian) Pending(ctx context.Context, id interfaces.Identity, refs []keymaster.Ref) ([]keymaster.Ref, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	var pending []keymaster.Ref
	for _, ref := range refs {
		if ref.IsSelf(id.Me) {
			continue
		}
		found, err := c.store.Exists(ctx, ref.Folder(id.Me), shardFile(id.Keyname, ref.Discriminator))
		if err != nil {
			return nil, err
		}
		if found {
			pending = append(pending, ref)
		}
	}
	return pending, nil
}

// State reports the custody state of a keymaster's shard as far as the
// acting party can see it. For other parties only the shared folder is
// visible, so an accepted shard shows as absent.
func (c *Custodian) State(ctx context.Context, id interfaces.Identity, ref keymaster.Ref) (State, error) {
	if err := id.Validate(); err != nil {
		return StateAbsent, err
	}

	name := shardFile(id.Keyname, ref.Discriminator)
	data, err := c.store.Read(ctx, ref.Folder(id.Me), name)
	if errors.Is(err, interfaces.ErrNotFound) {
		return StateAbsent, nil
	}
	if err != nil {
		return StateAbsent, err
	}

	if _, err := kms.DecodeShare(string(data)); err == nil {
		return StateRaw, nil
	}
	if ref.IsSelf(id.Me) {
		envelope, err := cryptoutils.DecodeEnvelope(string(data))
		if err == nil && len(envelope) > 0 && envelope[0] == cryptoutils.VersionPassword {
			return StateAccepted, nil
		}
	}
	return StateAbsent, nil
}
