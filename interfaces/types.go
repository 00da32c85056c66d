package interfaces

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Identity is the immutable acting context threaded through every operation:
// who the current party is and which key the operation works on.
type Identity struct {
	// Me is the acting party id. It appears in folder names, so it may not
	// contain path separators, the discriminator marker or the folder joiner.
	Me string `validate:"required,max=128,excludesall=/\\#0x2C"`

	// Keyname identifies the key all artifacts belong to.
	Keyname string `validate:"required,max=128,excludesall=/\\#0x2C"`
}

// Validate checks that the identity is complete. Failures wrap ErrConfig.
func (id Identity) Validate() error {
	err := validate.Struct(id)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("please set the '%s' value", strings.ToLower(fe.Field())))
		default:
			msgs = append(msgs, fmt.Sprintf("'%s' is not a valid %s", fe.Value(), strings.ToLower(fe.Field())))
		}
	}
	return fmt.Errorf("%w: %s", ErrConfig, strings.Join(msgs, "; "))
}

// WithKeyname returns a copy of the identity working on another key.
func (id Identity) WithKeyname(keyname string) Identity {
	id.Keyname = keyname
	return id
}

// Prompter reads a password or passphrase from the operator without echoing it.
type Prompter interface {
	Password(ctx context.Context, prompt string) (string, error)
}
