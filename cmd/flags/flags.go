package flags

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/ruteri/sealed-keymaster/common"
	"github.com/ruteri/sealed-keymaster/cryptoutils"
	"github.com/ruteri/sealed-keymaster/interfaces"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// Identity reads the acting identity. It is not validated here: the shell
// lets the operator fill in missing values with 'set'.
func Identity(cCtx *cli.Context) interfaces.Identity {
	return interfaces.Identity{
		Me:      cCtx.String(MeFlag.Name),
		Keyname: cCtx.String(KeynameFlag.Name),
	}
}

// Subject reads the certificate subject used by 'pki selfsign'.
func Subject(cCtx *cli.Context) cryptoutils.Subject {
	return cryptoutils.Subject{
		CommonName:         cCtx.String(CommonNameFlag.Name),
		Country:            cCtx.String(CountryFlag.Name),
		State:              cCtx.String(StateFlag.Name),
		Locality:           cCtx.String(LocalityFlag.Name),
		Organization:       cCtx.String(OrgFlag.Name),
		OrganizationalUnit: cCtx.String(OrgUnitFlag.Name),
	}
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{"KEYMASTER_CONFIG"},
	Usage:   "YAML file to load the other settings from",
}

var MeFlag = &cli.StringFlag{
	Name:    "me",
	EnvVars: []string{"KEYMASTER_ME"},
	Usage:   "your keymaster id, as it appears in shared folder names",
}

var KeynameFlag = &cli.StringFlag{
	Name:    "keyname",
	EnvVars: []string{"KEYMASTER_KEYNAME"},
	Usage:   "name of the key to work with",
}

var StorageFlag = &cli.StringSliceFlag{
	Name:    "storage",
	EnvVars: []string{"KEYMASTER_STORAGE"},
	Value:   cli.NewStringSlice("file:///keybase/private"),
	Usage:   "shared storage locations (file://, s3://, vault://), written to together and read in order",
}

var RSABitsFlag = &cli.IntFlag{
	Name:    "rsa-bits",
	EnvVars: []string{"KEYMASTER_RSA_BITS"},
	Value:   cryptoutils.DefaultRSABits,
	Usage:   "modulus size of generated keypairs",
}

var CommonNameFlag = &cli.StringFlag{
	Name:    "cn",
	EnvVars: []string{"KEYMASTER_CN"},
	Usage:   "certificate subject common name",
}

var CountryFlag = &cli.StringFlag{
	Name:    "country",
	EnvVars: []string{"KEYMASTER_COUNTRY"},
	Usage:   "certificate subject country",
}

var StateFlag = &cli.StringFlag{
	Name:    "state",
	EnvVars: []string{"KEYMASTER_STATE"},
	Usage:   "certificate subject state or province",
}

var LocalityFlag = &cli.StringFlag{
	Name:    "locality",
	EnvVars: []string{"KEYMASTER_LOCALITY"},
	Usage:   "certificate subject locality",
}

var OrgFlag = &cli.StringFlag{
	Name:    "org",
	EnvVars: []string{"KEYMASTER_ORG"},
	Usage:   "certificate subject organization",
}

var OrgUnitFlag = &cli.StringFlag{
	Name:    "org-unit",
	EnvVars: []string{"KEYMASTER_ORG_UNIT"},
	Usage:   "certificate subject organizational unit",
}

var CertValidityYearsFlag = &cli.IntFlag{
	Name:    "cert-validity-years",
	EnvVars: []string{"KEYMASTER_CERT_VALIDITY_YEARS"},
	Value:   10,
	Usage:   "validity of self-signed certificates in years",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

// KeymasterFlags can also be set from the --config file.
var KeymasterFlags = []cli.Flag{
	altsrc.NewStringFlag(MeFlag),
	altsrc.NewStringFlag(KeynameFlag),
	altsrc.NewStringSliceFlag(StorageFlag),
	altsrc.NewIntFlag(RSABitsFlag),
	altsrc.NewStringFlag(CommonNameFlag),
	altsrc.NewStringFlag(CountryFlag),
	altsrc.NewStringFlag(StateFlag),
	altsrc.NewStringFlag(LocalityFlag),
	altsrc.NewStringFlag(OrgFlag),
	altsrc.NewStringFlag(OrgUnitFlag),
	altsrc.NewIntFlag(CertValidityYearsFlag),
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}
