package am

import (
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/teranos/enrolpulse/errors"
)

// UnknownKeys returns the keys in the TOML file at path that no setting
// reads, such as a misspelt pulse.batchsize. Viper ignores them silently.
func UnknownKeys(path string) ([]string, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}

	var keys []string
	for _, key := range md.Undecoded() {
		keys = append(keys, key.String())
	}
	sort.Strings(keys)
	return keys, nil
}
