package kms

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ruteri/sealed-keymaster/cryptoutils"
	"github.com/ruteri/sealed-keymaster/interfaces"
	"github.com/ruteri/sealed-keymaster/keymaster"
)

// CustodyChecker reports custodians whose shard is still RAW in a shared folder.
type CustodyChecker interface {
	Pending(ctx context.Context, id interfaces.Identity, refs []keymaster.Ref) ([]keymaster.Ref, error)
}

// Generate creates a keypair named keyname, seals the private half under the
// live secret and writes {keyname}.key and {keyname}.pem once to every
// distinct custodian folder of quorum. It refuses while any other custodian
// of id.Keyname has not accepted their shard.
func (k *KMS) Generate(ctx context.Context, store interfaces.ArtifactStore, custody CustodyChecker, id interfaces.Identity, keyname string, quorum []keymaster.Ref) (cryptoutils.RSAPubkey, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if keyname == "" {
		return nil, fmt.Errorf("%w: keyname is required", interfaces.ErrInvalidArgument)
	}
	if len(quorum) == 0 {
		return nil, fmt.Errorf("%w: no keymasters given", interfaces.ErrInvalidArgument)
	}
	if !k.IsUnsealed() {
		return nil, fmt.Errorf("%w: you must unseal first", interfaces.ErrNotUnsealed)
	}

	pending, err := custody.Pending(ctx, id, quorum)
	if err != nil {
		return nil, fmt.Errorf("failed to check shard custody: %w", err)
	}
	if len(pending) > 0 {
		errs := make([]error, 0, len(pending))
		for _, ref := range pending {
			errs = append(errs, fmt.Errorf("%s shard has not been accepted (secured with a password and moved to their private folder)", ref))
		}
		return nil, fmt.Errorf("%w: %w", interfaces.ErrShardsNotAccepted, errors.Join(errs...))
	}

	key, err := cryptoutils.GenerateRSAKey(k.rsaBits)
	if err != nil {
		return nil, err
	}

	pub, err := cryptoutils.EncodeRSAPubkey(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	var sealed []byte
	err = k.withSecret(func(secret []byte) error {
		privPEM := cryptoutils.EncodeRSAPrivkey(key)
		defer wipeBytes(privPEM)
		sealed, err = cryptoutils.Seal(secret, privPEM)
		return err
	})
	if err != nil {
		return nil, err
	}

	k.Register(keyname, key)

	encoded := []byte(cryptoutils.EncodeEnvelope(sealed) + "\n")
	keyFile := keymaster.FileName(keyname, "", interfaces.KeyArtifact)
	pubFile := keymaster.FileName(keyname, "", interfaces.PublicKeyArtifact)

	var writeErrs []error
	for _, folder := range keymaster.Folders(id.Me, quorum) {
		if err := store.Write(ctx, folder, keyFile, encoded); err != nil {
			writeErrs = append(writeErrs, fmt.Errorf("%s/%s: %w", folder, keyFile, err))
			continue
		}
		if err := store.Write(ctx, folder, pubFile, pub); err != nil {
			writeErrs = append(writeErrs, fmt.Errorf("%s/%s: %w", folder, pubFile, err))
			continue
		}
		k.log.Info("sealed keypair written", "keyname", keyname, "folder", folder)
	}

	if len(writeErrs) > 0 {
		fmt.Fprintf(k.console, "Failed to write the sealed key. Save it manually as %s:\n%s", keyFile, encoded)
		return pub, fmt.Errorf("%w: %w", interfaces.ErrWriteFailure, errors.Join(writeErrs...))
	}

	return pub, nil
}

// Load opens a sealed private key with the live secret and registers it
// under keyname. The key is read from sourcePath on the local filesystem when
// given, otherwise from the acting party's own folder.
func (k *KMS) Load(ctx context.Context, store interfaces.ArtifactStore, id interfaces.Identity, keyname, sourcePath string) error {
	if keyname == "" {
		return fmt.Errorf("%w: keyname is required", interfaces.ErrInvalidArgument)
	}
	if !k.IsUnsealed() {
		return fmt.Errorf("%w: you must unseal first", interfaces.ErrNotUnsealed)
	}

	var data []byte
	var err error
	if sourcePath != "" {
		data, err = os.ReadFile(sourcePath)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", interfaces.ErrNotFound, sourcePath)
		}
	} else {
		if id.Me == "" {
			return fmt.Errorf("%w: please set the 'me' value", interfaces.ErrConfig)
		}
		data, err = store.Read(ctx, id.Me, keymaster.FileName(keyname, "", interfaces.KeyArtifact))
	}
	if err != nil {
		return fmt.Errorf("failed to read sealed key: %w", err)
	}

	envelope, err := cryptoutils.DecodeEnvelope(string(data))
	if err != nil {
		return err
	}

	var privPEM []byte
	err = k.withSecret(func(secret []byte) error {
		privPEM, err = cryptoutils.Open(secret, envelope)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to open sealed key: %w", err)
	}
	defer wipeBytes(privPEM)

	key, err := cryptoutils.RSAPrivkey(privPEM).GetPrivateKey()
	if err != nil {
		return err
	}

	k.Register(keyname, key)
	k.log.Info("keypair loaded", "keyname", keyname)
	return nil
}
