package commands

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/sealed-keymaster/cryptoutils"
	"github.com/ruteri/sealed-keymaster/custody"
	"github.com/ruteri/sealed-keymaster/interfaces"
	"github.com/ruteri/sealed-keymaster/keymaster"
	"github.com/ruteri/sealed-keymaster/kms"
	"github.com/ruteri/sealed-keymaster/unseal"
)

// Config holds the settings commands read besides the identity.
type Config struct {
	Subject           cryptoutils.Subject
	CertValidityYears int
	RSABits           int
	// Console receives notices and sealed material that could not be saved.
	Console io.Writer
	Now     func() time.Time
}

// Dispatcher owns the live key material of one keymaster process and runs
// commands against it.
type Dispatcher struct {
	id       interfaces.Identity
	config   Config
	store    interfaces.ArtifactStore
	prompter interfaces.Prompter
	log      *slog.Logger

	kms         *kms.KMS
	custodian   *custody.Custodian
	coordinator *unseal.Coordinator
	approver    *unseal.Approver
}

func NewDispatcher(log *slog.Logger, id interfaces.Identity, store interfaces.ArtifactStore, prompter interfaces.Prompter, config Config) *Dispatcher {
	if config.Console == nil {
		config.Console = io.Discard
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.CertValidityYears == 0 {
		config.CertValidityYears = 10
	}

	custodian := custody.NewCustodian(store, config.Console, log)
	return &Dispatcher{
		id:          id,
		config:      config,
		store:       store,
		prompter:    prompter,
		log:         log,
		kms:         kms.NewKMS(log, kms.Config{RSABits: config.RSABits, Console: config.Console}),
		custodian:   custodian,
		coordinator: unseal.NewCoordinator(store, custodian, log),
		approver:    unseal.NewApprover(store, custodian, log),
	}
}

// Identity returns the current acting identity.
func (d *Dispatcher) Identity() interfaces.Identity {
	return d.id
}

// Prompt renders the shell prompt for the current state.
func (d *Dispatcher) Prompt() string {
	if d.kms.IsUnsealed() {
		return d.id.Keyname + ":unsealed> "
	}
	return d.id.Keyname + "> "
}

// Execute parses and runs one command line.
func (d *Dispatcher) Execute(ctx context.Context, line string) (string, error) {
	cmd, err := Parse(line)
	if err != nil || cmd == nil {
		return "", err
	}
	return d.Run(ctx, cmd)
}

// Run executes cmd and returns the message to show the operator.
func (d *Dispatcher) Run(ctx context.Context, cmd Command) (string, error) {
	switch c := cmd.(type) {
	case Help:
		return helpText, nil
	case Exit:
		return "", ErrExit
	case Set:
		return d.set(c)
	case Status:
		return d.status(ctx)
	case Shard:
		return d.shard(ctx, c)
	case Accept:
		dest, err := d.custodian.Accept(ctx, d.id, c.Keymaster, c.Discriminator, d.prompter)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Shard secured at %s", dest), nil
	case Verify:
		if err := d.id.Validate(); err != nil {
			return "", err
		}
		password, err := d.prompter.Password(ctx, "Password for your key shard: ")
		if err != nil {
			return "", err
		}
		if err := d.custodian.Verify(ctx, d.id, c.Discriminator, password); err != nil {
			return "", err
		}
		return "Shard verified", nil
	case Unseal:
		return d.unseal(ctx, c)
	case UnsealAbandon:
		if err := d.coordinator.Abandon(ctx, d.id); err != nil {
			return "", err
		}
		return "Unseal abandoned", nil
	case Approve:
		if err := d.approver.Approve(ctx, d.id, c.Keymaster, c.Discriminator, d.prompter); err != nil {
			return "", err
		}
		return fmt.Sprintf("Approved the unseal request from %s", c.Keymaster), nil
	case Generate:
		pub, err := d.kms.Generate(ctx, d.store, d.custodian, d.id, c.Keyname, c.Keymasters)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Key pair %s generated\n%s", c.Keyname, strings.TrimSpace(string(pub))), nil
	case LoadKey:
		if err := d.kms.Load(ctx, d.store, d.id, c.Keyname, c.Path); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s loaded", c.Keyname), nil
	case Encrypt:
		content, err := cryptoutils.DecodeContent(c.Content, c.Encoding)
		if err != nil {
			return "", err
		}
		return d.kms.Encrypt(content)
	case Decrypt:
		content, err := d.kms.Decrypt(c.Content)
		if err != nil {
			return "", err
		}
		return cryptoutils.EncodeContent(content, c.Encoding)
	case PKIEncrypt:
		content, err := cryptoutils.DecodeContent(c.Content, c.Encoding)
		if err != nil {
			return "", err
		}
		ct, err := d.kms.PKIEncrypt(c.Keyname, content)
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(ct), nil
	case PKIDecrypt:
		ct, err := base64.StdEncoding.DecodeString(c.Content)
		if err != nil {
			return "", fmt.Errorf("%w: ciphertext is not base64: %v", interfaces.ErrDecode, err)
		}
		pt, err := d.kms.PKIDecrypt(c.Keyname, ct)
		if err != nil {
			return "", err
		}
		return cryptoutils.EncodeContent(pt, c.Encoding)
	case SelfSign:
		return d.selfSign(c)
	case SignCSR:
		return d.signCSR(c)
	default:
		return "", fmt.Errorf("%w: unsupported command %T", interfaces.ErrInvalidArgument, cmd)
	}
}

func (d *Dispatcher) set(c Set) (string, error) {
	switch c.Key {
	case "me", "keyname":
		if strings.ContainsAny(c.Value, `/\#,`) {
			return "", fmt.Errorf("%w: %q may not contain '/', '\\', '#' or ','", interfaces.ErrInvalidArgument, c.Value)
		}
		if c.Key == "me" {
			d.id = interfaces.Identity{Me: c.Value, Keyname: d.id.Keyname}
		} else {
			d.id = d.id.WithKeyname(c.Value)
		}
	case "cn":
		d.config.Subject.CommonName = c.Value
	case "country":
		d.config.Subject.Country = c.Value
	case "state":
		d.config.Subject.State = c.Value
	case "locality":
		d.config.Subject.Locality = c.Value
	case "org":
		d.config.Subject.Organization = c.Value
	case "org-unit":
		d.config.Subject.OrganizationalUnit = c.Value
	case "cert-validity-years":
		years, err := strconv.Atoi(c.Value)
		if err != nil || years < 1 {
			return "", fmt.Errorf("%w: cert-validity-years must be a positive integer", interfaces.ErrInvalidArgument)
		}
		d.config.CertValidityYears = years
	default:
		return "", usage("set")
	}
	d.log.Debug("setting changed", "key", c.Key)
	return fmt.Sprintf("Set %s to '%s'", c.Key, c.Value), nil
}

func (d *Dispatcher) shard(ctx context.Context, c Shard) (string, error) {
	if err := d.id.Validate(); err != nil {
		return "", err
	}

	secret, err := kms.NewSecret()
	if err != nil {
		return "", err
	}
	defer cryptoutils.WipeBytes(secret)

	shares, err := kms.SplitSecret(secret, c.Shards, c.Threshold)
	if err != nil {
		return "", err
	}
	defer func() {
		for _, share := range shares {
			cryptoutils.WipeBytes(share)
		}
	}()

	distErr := d.custodian.Distribute(ctx, d.id, c.Keymasters, shares)
	if distErr != nil && !errors.Is(distErr, interfaces.ErrWriteFailure) {
		return "", distErr
	}

	// The splitter keeps the secret so a keypair can be generated once the
	// shards are accepted. After a partial write it is also the only
	// complete copy left.
	if err := d.kms.Unseal(secret); err != nil {
		return "", errors.Join(distErr, err)
	}
	if distErr != nil {
		return "", fmt.Errorf("%w; the secret stays unsealed in this session", distErr)
	}

	fmt.Fprintln(d.config.Console, "You must keep this session active while the shards are accepted,")
	fmt.Fprintln(d.config.Console, "or you will need to unseal to create a keypair.")
	return fmt.Sprintf("%d shards generated", len(shares)), nil
}

func (d *Dispatcher) unseal(ctx context.Context, c Unseal) (string, error) {
	if err := d.id.Validate(); err != nil {
		return "", err
	}

	if d.coordinator.Session() == nil {
		saved, err := d.coordinator.Saved(ctx, d.id)
		if err != nil {
			return "", err
		}

		if !saved {
			if len(c.Keymasters) == 0 {
				return "", usage("unseal")
			}
			fmt.Fprintln(d.config.Console, "Choose a passphrase for this unseal operation. Share it with the keymasters over an offline channel.")
			passphrase, err := d.prompter.Password(ctx, "Passphrase: ")
			if err != nil {
				return "", err
			}
			session, err := d.coordinator.Initiate(ctx, d.id, c.Keymasters, passphrase)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Unseal requested from %s. Run unseal again once they have approved.", strings.Join(others(d.id.Me, session.Quorum), ", ")), nil
		}

		passphrase, err := d.prompter.Password(ctx, "Passphrase of the unseal in progress: ")
		if err != nil {
			return "", err
		}
		if _, err := d.coordinator.Resume(ctx, d.id, passphrase); err != nil {
			return "", err
		}
	}

	if session := d.coordinator.Session(); len(c.Keymasters) > 0 && !sameQuorum(c.Keymasters, session.Quorum) {
		d.log.Warn("keymasters differ from the unseal in progress, using the original quorum", "quorum", session.Quorum)
	}

	secret, err := d.coordinator.Complete(ctx, d.id, d.prompter)
	if err != nil {
		if errors.Is(err, interfaces.ErrInsufficientShards) {
			if pending, perr := d.coordinator.Pending(ctx, d.id); perr == nil && len(pending) > 0 {
				return "", fmt.Errorf("%w; waiting for %s", err, joinRefs(pending))
			}
		}
		return "", err
	}
	defer cryptoutils.WipeBytes(secret)

	if err := d.kms.Unseal(secret); err != nil {
		return "", err
	}
	return "unsealed", nil
}

func (d *Dispatcher) status(ctx context.Context) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "me: %s\nkeyname: %s\n", d.id.Me, d.id.Keyname)

	if d.kms.IsUnsealed() {
		b.WriteString("secret: unsealed\n")
	} else {
		b.WriteString("secret: sealed\n")
	}

	if keypairs := d.kms.Keypairs(); len(keypairs) > 0 {
		fmt.Fprintf(&b, "keypairs: %s\n", strings.Join(keypairs, ", "))
	}

	if d.id.Validate() == nil {
		state, err := d.custodian.State(ctx, d.id, keymaster.Ref{Party: d.id.Me})
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "shard: %s\n", state)
	}

	fmt.Fprintf(&b, "unseal: %s", d.coordinator.State())
	if session := d.coordinator.Session(); session != nil {
		fmt.Fprintf(&b, " (session %s with %s)", session.ID, strings.Join(session.Quorum, ","))
		if pending, err := d.coordinator.Pending(ctx, d.id); err == nil && len(pending) > 0 {
			fmt.Fprintf(&b, "\nwaiting for: %s", joinRefs(pending))
		}
	}
	return b.String(), nil
}

func (d *Dispatcher) selfSign(c SelfSign) (string, error) {
	cert, err := d.kms.SelfSign(c.Keyname, d.config.Subject.Name(), d.config.CertValidityYears, d.config.Now())
	if err != nil {
		return "", err
	}
	if c.Output == "" {
		return strings.TrimSpace(string(cert)), nil
	}
	if err := os.WriteFile(c.Output, cert, 0o644); err != nil {
		return "", fmt.Errorf("%w: %w", interfaces.ErrWriteFailure, err)
	}
	return fmt.Sprintf("Certificate written to %s", c.Output), nil
}

func (d *Dispatcher) signCSR(c SignCSR) (string, error) {
	if _, err := d.kms.Keypair(c.Keyname); err != nil {
		return "", err
	}

	csr, err := readLocal(c.CSRPath)
	if err != nil {
		return "", err
	}

	var ca []byte
	if c.CAPath != "" {
		ca, err = readLocal(c.CAPath)
		if err != nil {
			return "", err
		}
	}

	cert, err := d.kms.SignCSR(c.Keyname, csr, ca, d.config.Now())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(cert)), nil
}

func readLocal(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, path)
	}
	return data, err
}

func others(me string, quorum []string) []string {
	var out []string
	for _, s := range quorum {
		ref, err := keymaster.ParseRef(s)
		if err == nil && ref.IsSelf(me) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func sameQuorum(refs []keymaster.Ref, quorum []string) bool {
	if len(refs) != len(quorum) {
		return false
	}
	for i, ref := range refs {
		if ref.String() != quorum[i] {
			return false
		}
	}
	return true
}

func joinRefs(refs []keymaster.Ref) string {
	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		parts = append(parts, ref.String())
	}
	return strings.Join(parts, ", ")
}
