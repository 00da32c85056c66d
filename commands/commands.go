// Package commands parses keymaster command lines and runs them against the
// process-wide key material.
//
// Every command is one of a closed set of types. Parse turns a line into a
// Command and Dispatcher.Run executes it, returning either a message for the
// operator or an error; nothing a command does escapes that pair.
package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ruteri/sealed-keymaster/cryptoutils"
	"github.com/ruteri/sealed-keymaster/interfaces"
	"github.com/ruteri/sealed-keymaster/keymaster"
)

// ErrExit asks the shell to stop.
var ErrExit = errors.New("exit")

// Command is implemented by every command variant in this package.
type Command interface {
	command()
}

type (
	// Set changes a session setting: me, keyname or a certificate subject field.
	Set struct {
		Key   string
		Value string
	}

	Help struct{}

	Exit struct{}

	Status struct{}

	// Shard creates a new secret and hands one RAW shard to each keymaster.
	Shard struct {
		Shards     int
		Threshold  int
		Keymasters []keymaster.Ref
	}

	Accept struct {
		Keymaster     string
		Discriminator string
	}

	Verify struct {
		Discriminator string
	}

	// Unseal initiates a handshake with Keymasters, or completes the one in
	// progress.
	Unseal struct {
		Keymasters []keymaster.Ref
	}

	UnsealAbandon struct{}

	Approve struct {
		Keymaster     string
		Discriminator string
	}

	Generate struct {
		Keyname    string
		Keymasters []keymaster.Ref
	}

	LoadKey struct {
		Keyname string
		Path    string
	}

	Encrypt struct {
		Content  string
		Encoding cryptoutils.ContentEncoding
	}

	Decrypt struct {
		Content  string
		Encoding cryptoutils.ContentEncoding
	}

	PKIEncrypt struct {
		Keyname  string
		Content  string
		Encoding cryptoutils.ContentEncoding
	}

	PKIDecrypt struct {
		Keyname  string
		Content  string
		Encoding cryptoutils.ContentEncoding
	}

	SelfSign struct {
		Keyname string
		Output  string
	}

	SignCSR struct {
		Keyname string
		CSRPath string
		CAPath  string
	}
)

func (Set) command()           {}
func (Help) command()          {}
func (Exit) command()          {}
func (Status) command()        {}
func (Shard) command()         {}
func (Accept) command()        {}
func (Verify) command()        {}
func (Unseal) command()        {}
func (UnsealAbandon) command() {}
func (Approve) command()       {}
func (Generate) command()      {}
func (LoadKey) command()       {}
func (Encrypt) command()       {}
func (Decrypt) command()       {}
func (PKIEncrypt) command()    {}
func (PKIDecrypt) command()    {}
func (SelfSign) command()      {}
func (SignCSR) command()       {}

var usages = map[string]string{
	"set":      "set <me|keyname|cn|country|state|locality|org|org-unit|cert-validity-years> <value>",
	"shard":    "shard <shards> <threshold> <keymasters>",
	"accept":   "accept <keymaster> [discriminator]",
	"verify":   "verify [discriminator]",
	"unseal":   "unseal <keymasters> | unseal abandon",
	"approve":  "approve <keymaster> [discriminator]",
	"generate": "generate <keyname> <keymasters>",
	"loadkey":  "loadkey <keyname> [path]",
	"encrypt":  "encrypt <content> [encoding]",
	"decrypt":  "decrypt <content> [encoding]",
	"pki":      "pki encrypt|decrypt <keyname> <content> [encoding] | pki selfsign <keyname> [output] | pki csr <keyname> <csr file> [ca cert]",
}

func usage(name string) error {
	return fmt.Errorf("%w: usage: %s", interfaces.ErrInvalidArgument, usages[name])
}

// Parse reads one command line. A blank line parses to a nil Command.
func Parse(line string) (Command, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil, nil
	}

	name, args := args[0], args[1:]
	switch name {
	case "help", "?":
		return Help{}, nil
	case "exit", "quit":
		return Exit{}, nil
	case "status":
		return Status{}, nil
	case "set":
		if len(args) != 2 {
			return nil, usage(name)
		}
		return Set{Key: args[0], Value: args[1]}, nil
	case "shard":
		return parseShard(args)
	case "accept", "approve":
		if len(args) < 1 || len(args) > 2 {
			return nil, usage(name)
		}
		km, disc := args[0], optional(args, 1)
		if name == "accept" {
			return Accept{Keymaster: km, Discriminator: disc}, nil
		}
		return Approve{Keymaster: km, Discriminator: disc}, nil
	case "verify":
		if len(args) > 1 {
			return nil, usage(name)
		}
		return Verify{Discriminator: optional(args, 0)}, nil
	case "unseal":
		return parseUnseal(args)
	case "generate":
		if len(args) != 2 {
			return nil, usage(name)
		}
		refs, err := keymaster.ParseList(args[1])
		if err != nil {
			return nil, err
		}
		return Generate{Keyname: args[0], Keymasters: refs}, nil
	case "loadkey":
		if len(args) < 1 || len(args) > 2 {
			return nil, usage(name)
		}
		return LoadKey{Keyname: args[0], Path: optional(args, 1)}, nil
	case "encrypt", "decrypt":
		if len(args) < 1 || len(args) > 2 {
			return nil, usage(name)
		}
		enc, err := cryptoutils.ParseContentEncoding(optional(args, 1))
		if err != nil {
			return nil, err
		}
		if name == "encrypt" {
			return Encrypt{Content: args[0], Encoding: enc}, nil
		}
		return Decrypt{Content: args[0], Encoding: enc}, nil
	case "pki":
		return parsePKI(args)
	default:
		return nil, fmt.Errorf("%w: unknown command %q, type 'help' for a list", interfaces.ErrInvalidArgument, name)
	}
}

func optional(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func parseShard(args []string) (Command, error) {
	if len(args) != 3 {
		return nil, usage("shard")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 2 {
		return nil, fmt.Errorf("%w: invalid shards argument, must be an integer > 1: %s", interfaces.ErrInvalidArgument, usages["shard"])
	}
	t, err := strconv.Atoi(args[1])
	if err != nil || t < 1 {
		return nil, fmt.Errorf("%w: invalid threshold argument, must be an integer > 0: %s", interfaces.ErrInvalidArgument, usages["shard"])
	}
	refs, err := keymaster.ParseList(args[2])
	if err != nil {
		return nil, err
	}
	if len(refs) != n {
		return nil, fmt.Errorf("%w: keymaster list must be the same length (%d) as the number of shards (%d)", interfaces.ErrInvalidArgument, len(refs), n)
	}
	return Shard{Shards: n, Threshold: t, Keymasters: refs}, nil
}

func parseUnseal(args []string) (Command, error) {
	switch {
	case len(args) == 0:
		return Unseal{}, nil
	case len(args) == 1 && args[0] == "abandon":
		return UnsealAbandon{}, nil
	case len(args) == 1:
		refs, err := keymaster.ParseList(args[0])
		if err != nil {
			return nil, err
		}
		return Unseal{Keymasters: refs}, nil
	default:
		return nil, usage("unseal")
	}
}

func parsePKI(args []string) (Command, error) {
	if len(args) < 2 {
		return nil, usage("pki")
	}

	op, keyname, rest := args[0], args[1], args[2:]
	switch op {
	case "encrypt", "decrypt":
		if len(rest) < 1 || len(rest) > 2 {
			return nil, usage("pki")
		}
		enc, err := cryptoutils.ParseContentEncoding(optional(rest, 1))
		if err != nil {
			return nil, err
		}
		if op == "encrypt" {
			return PKIEncrypt{Keyname: keyname, Content: rest[0], Encoding: enc}, nil
		}
		return PKIDecrypt{Keyname: keyname, Content: rest[0], Encoding: enc}, nil
	case "selfsign":
		if len(rest) > 1 {
			return nil, usage("pki")
		}
		return SelfSign{Keyname: keyname, Output: optional(rest, 0)}, nil
	case "csr":
		if len(rest) < 1 || len(rest) > 2 {
			return nil, usage("pki")
		}
		return SignCSR{Keyname: keyname, CSRPath: rest[0], CAPath: optional(rest, 1)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown pki operation %q, must be encrypt, decrypt, selfsign or csr", interfaces.ErrInvalidArgument, op)
	}
}

const helpText = `Commands:
  set <arg> <value>
    Set me, keyname or a certificate subject field (cn, country, state,
    locality, org, org-unit, cert-validity-years)
  shard <shards> <threshold> <keymasters>
    Create a new secret and split it into <shards> shards for <keymasters>
    (comma separated), requiring <threshold> shards to unseal it
  accept <keymaster> [discriminator]
    Secure the shard <keymaster> created for you with a password and move
    it to your private folder
  verify [discriminator]
    Verify your shard and password
  unseal <keymasters>
    Initiate an unseal with <keymasters>, or check for their responses if
    an unseal is already in progress
  unseal abandon
    Drop the unseal in progress and remove its requests
  approve <keymaster> [discriminator]
    Answer an unseal request from <keymaster> with your shard
  generate <keyname> <keymasters>
    Generate a keypair sealed under the secret and save it to every
    keymaster folder, once every shard has been accepted
  loadkey <keyname> [path]
    Load a sealed keypair (from your private folder by default)
  encrypt <content> [encoding]
    Encrypt content with the secret (encoding: utf8, ascii, hex, base64)
  decrypt <content> [encoding]
    Decrypt content with the secret
  pki encrypt <keyname> <content> [encoding]
  pki decrypt <keyname> <content> [encoding]
    Encrypt or decrypt with a loaded keypair
  pki selfsign <keyname> [output]
    Create a self-signed certificate for a loaded keypair
  pki csr <keyname> <csr file> [ca cert]
    Issue a certificate for a CSR, signed by a loaded keypair
  status
    Show the current settings and key material
  exit`
