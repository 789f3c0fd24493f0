package repo

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	rootPathEnvVar = "CLUBHOUSE_PATH"

	envPrefix = "CLUBHOUSE"

	cfgFileName = "clubhouse.toml"

	lockFileName = "clubhouse.lock"

	defaultRepoRoot = "~/.clubhouse"

	LogsDirName = "logs"

	// StateDirName holds the account trie of the ledger.
	StateDirName = "state"

	// MetaDirName holds the journal: committed heads and their logs.
	MetaDirName = "meta"
)

// fixed contract accounts
const (
	AssetContractAddr      = "0x0000000000000000000000000000000000001001"
	SponsorContractAddr    = "0x0000000000000000000000000000000000001002"
	TreasuryContractAddr   = "0x0000000000000000000000000000000000001003"
	StakingContractAddr    = "0x0000000000000000000000000000000000001004"
	GovernanceContractAddr = "0x0000000000000000000000000000000000001005"
)

// Repo is a clubhouse home directory: the config file, the ledger stores
// and the logs of one daemon.
type Repo struct {
	Config *Config

	lock *flock.Flock
}

// Exist check if the file with the given path exits.
func Exist(path string) bool {
	fi, err := os.Lstat(path)
	if fi != nil || (err != nil && !os.IsNotExist(err)) {
		return true
	}

	return false
}

// Load reads the config of the repo at repoRoot, writing the defaults on
// first use. Environment variables prefixed with CLUBHOUSE override the file.
func Load(repoRoot string) (*Repo, error) {
	rootPath, err := LoadRepoRootFromEnv(repoRoot)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig(rootPath)

	cfgPath := filepath.Join(rootPath, cfgFileName)
	if Exist(cfgPath) {
		if err := CheckWritable(rootPath); err != nil {
			return nil, err
		}
		if err := readConfigFromFile(cfgPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "read %s", cfgPath)
		}
	} else {
		if err := os.MkdirAll(rootPath, 0755); err != nil {
			return nil, errors.Wrap(err, "create repo root")
		}
		if err := writeConfigWithEnv(cfgPath, cfg); err != nil {
			return nil, errors.Wrap(err, "write default config")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return &Repo{Config: cfg}, nil
}

// Path joins elems under the repo root.
func (r *Repo) Path(elems ...string) string {
	return filepath.Join(append([]string{r.Config.RepoRoot}, elems...)...)
}

// Lock claims the repo for this process. Two daemons on one repo would
// fight over the leveldb stores, so the second one is turned away.
func (r *Repo) Lock() error {
	if r.lock != nil {
		return nil
	}
	fl := flock.New(r.Path(lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return errors.Wrapf(err, "flock %s", fl.Path())
	}
	if !locked {
		return errors.Errorf("repo %s is used by another clubhouse (locking file %s)", r.Config.RepoRoot, fl.Path())
	}
	r.lock = fl
	return nil
}

// Unlock releases the repo. It is a no-op if the repo is not locked.
func (r *Repo) Unlock() error {
	if r.lock == nil {
		return nil
	}
	err := r.lock.Unlock()
	r.lock = nil
	return err
}

func (r *Repo) Flush() error {
	if err := writeConfigWithEnv(filepath.Join(r.Config.RepoRoot, cfgFileName), r.Config); err != nil {
		return errors.Wrap(err, "write config")
	}
	return nil
}

func (c *Config) StatePath() string {
	return filepath.Join(c.RepoRoot, StateDirName)
}

func (c *Config) MetaPath() string {
	return filepath.Join(c.RepoRoot, MetaDirName)
}

func (c *Config) LogsPath() string {
	return filepath.Join(c.RepoRoot, LogsDirName)
}

func writeConfigWithEnv(cfgPath string, config any) error {
	if err := writeConfig(cfgPath, config); err != nil {
		return err
	}
	// write back environment variables first
	// TODO: wait viper support read from environment variables
	if err := readConfigFromFile(cfgPath, config); err != nil {
		return errors.Wrapf(err, "failed to read cfg from environment")
	}
	return writeConfig(cfgPath, config)
}

func writeConfig(cfgPath string, config any) error {
	raw, err := MarshalConfig(config)
	if err != nil {
		return err
	}
	return os.WriteFile(cfgPath, []byte(raw), 0644)
}

func MarshalConfig(config any) (string, error) {
	buf := bytes.NewBuffer([]byte{})
	e := toml.NewEncoder(buf)
	e.SetIndentTables(true)
	e.SetArraysMultiline(true)
	if err := e.Encode(config); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LoadRepoRootFromEnv picks the repo root: the explicit one, then
// CLUBHOUSE_PATH, then ~/.clubhouse.
func LoadRepoRootFromEnv(repoRoot string) (string, error) {
	if repoRoot != "" {
		return repoRoot, nil
	}
	if env := os.Getenv(rootPathEnvVar); env != "" {
		return env, nil
	}
	return homedir.Expand(defaultRepoRoot)
}

func readConfigFromFile(cfgFilePath string, config any) error {
	vp := viper.New()
	vp.SetConfigFile(cfgFilePath)
	vp.SetConfigType("toml")
	vp.AutomaticEnv()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := vp.ReadInConfig(); err != nil {
		return err
	}
	return vp.Unmarshal(config)
}

// CheckWritable makes sure dir exists and the current user can write to it.
func CheckWritable(dir string) error {
	_, err := os.Stat(dir)
	switch {
	case err == nil:
		f, err := os.CreateTemp(dir, ".writable-*")
		if err != nil {
			if os.IsPermission(err) {
				return errors.Errorf("%s is not writeable by the current user", dir)
			}
			return errors.Wrap(err, "check writability of repo root")
		}
		f.Close()
		return os.Remove(f.Name())
	case os.IsNotExist(err):
		return os.Mkdir(dir, 0775)
	case os.IsPermission(err):
		return errors.Errorf("cannot write to %s, incorrect permissions", dir)
	default:
		return err
	}
}
