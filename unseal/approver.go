package unseal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/sealed-keymaster/cryptoutils"
	"github.com/ruteri/sealed-keymaster/custody"
	"github.com/ruteri/sealed-keymaster/interfaces"
	"github.com/ruteri/sealed-keymaster/keymaster"
)

// Approver answers unseal requests addressed to the acting party.
type Approver struct {
	store     interfaces.ArtifactStore
	custodian *custody.Custodian
	log       *slog.Logger
}

func NewApprover(store interfaces.ArtifactStore, custodian *custody.Custodian, log *slog.Logger) *Approver {
	return &Approver{store: store, custodian: custodian, log: log}
}

// Approve answers initiator's request for the acting party's shard with the
// given discriminator. The unseal passphrase and then the shard password are
// requested only once the request has been found. The response is written
// next to the request, which is then removed.
func (a *Approver) Approve(ctx context.Context, id interfaces.Identity, initiator, discriminator string, prompter interfaces.Prompter) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if initiator == "" {
		return fmt.Errorf("%w: keymaster is required", interfaces.ErrInvalidArgument)
	}

	// The initiator addressed the request to our ref in its quorum.
	own := keymaster.Ref{Party: id.Me, Discriminator: discriminator}
	folder := keymaster.Folder(id.Me, initiator)
	reqName := requestFile(id.Keyname, own)
	resName := responseFile(id.Keyname, own)

	data, err := a.store.Read(ctx, folder, reqName)
	if errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("%w: no unseal request at %s/%s", interfaces.ErrNotFound, folder, reqName)
	}
	if err != nil {
		return err
	}

	passphrase, err := prompter.Password(ctx, "Unseal passphrase: ")
	if err != nil {
		return err
	}

	envelope, err := cryptoutils.DecodeEnvelope(string(data))
	if err != nil {
		return err
	}
	key, err := cryptoutils.OpenWithPassword(passphrase, envelope)
	if err != nil {
		return fmt.Errorf("failed to open unseal request: %w", err)
	}
	defer cryptoutils.WipeBytes(key)
	if len(key) != cryptoutils.KeySize {
		return fmt.Errorf("%w: unseal request carries a %d byte key", interfaces.ErrDecode, len(key))
	}

	password, err := prompter.Password(ctx, ownShardPrompt(own))
	if err != nil {
		return err
	}
	share, err := a.custodian.ReadShard(ctx, id, discriminator, password)
	if err != nil {
		return fmt.Errorf("failed to read your shard: %w", err)
	}
	defer cryptoutils.WipeBytes(share)

	response, err := cryptoutils.Seal(key, share)
	if err != nil {
		return err
	}
	if err := a.store.Write(ctx, folder, resName, []byte(cryptoutils.EncodeEnvelope(response)+"\n")); err != nil {
		return fmt.Errorf("%w: %s/%s: %w", interfaces.ErrWriteFailure, folder, resName, err)
	}

	if err := a.store.Delete(ctx, folder, reqName); err != nil {
		return fmt.Errorf("response written but the request at %s/%s could not be removed: %w", folder, reqName, err)
	}

	a.log.Info("unseal request approved", "initiator", initiator, "folder", folder)
	return nil
}
