/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"crypto/ecdsa"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/tribler/dispersy/common/flogging"
	"github.com/tribler/dispersy/dispersy/crypto"
)

const (
	// CmdRoot is the name of the configuration file and the prefix of
	// environment overrides.
	CmdRoot = "dispersy"

	// OfficialPath is searched for the configuration file after the
	// working directory.
	OfficialPath = "/etc/dispersy"
)

var logger = flogging.MustGetLogger("dispersyd")

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.IsDir()
}

// InitViper sets up viper to read configName.yaml from DISPERSY_CFG_PATH
// or, when that is not set, from the working directory and OfficialPath.
// Every key can be overridden by a DISPERSY_ prefixed variable with dots
// replaced by underscores.
func InitViper(v *viper.Viper, configName string) error {
	if v == nil {
		v = viper.GetViper()
	}
	if altPath := os.Getenv("DISPERSY_CFG_PATH"); altPath != "" {
		if !dirExists(altPath) {
			return errors.Errorf("DISPERSY_CFG_PATH %s does not exist", altPath)
		}
		v.AddConfigPath(altPath)
	} else {
		v.AddConfigPath("./")
		if dirExists(OfficialPath) {
			v.AddConfigPath(OfficialPath)
		}
	}
	v.SetConfigName(configName)
	v.SetEnvPrefix(strings.ToUpper(CmdRoot))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return nil
}

// InitConfig reads the configuration. An explicit file wins over the
// search path.
func InitConfig(file string) error {
	if err := InitViper(nil, CmdRoot); err != nil {
		return err
	}
	if file != "" {
		viper.SetConfigFile(file)
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return errors.Errorf("could not find config file, please make sure that DISPERSY_CFG_PATH "+
				"is set to a path which contains %s.yaml", CmdRoot)
		}
		return errors.WithMessage(err, fmt.Sprintf("error when reading %s config file", CmdRoot))
	}
	logger.Debugf("using config file %s", viper.ConfigFileUsed())
	return nil
}

// GetPath returns the path stored at key, relative paths being taken
// relative to the configuration file.
func GetPath(key string) string {
	p := viper.GetString(key)
	if p == "" || filepath.IsAbs(p) || viper.ConfigFileUsed() == "" {
		return p
	}
	return filepath.Join(filepath.Dir(viper.ConfigFileUsed()), p)
}

// LoggingConfig returns the logging.* settings. levelOverride, when set,
// replaces the configured spec.
func LoggingConfig(levelOverride string) flogging.Config {
	conf := flogging.Config{
		Format:     viper.GetString("logging.format"),
		LogSpec:    viper.GetString("logging.spec"),
		File:       GetPath("logging.file"),
		MaxSizeMB:  viper.GetInt("logging.maxSizeMB"),
		MaxBackups: viper.GetInt("logging.maxBackups"),
	}
	if levelOverride != "" {
		conf.LogSpec = levelOverride
	}
	return conf
}

// LoadKey reads the PEM encoded private key at path.
func LoadKey(path string) (*ecdsa.PrivateKey, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed reading key %s", path)
	}
	key, err := crypto.PEMToPrivateKey(raw)
	if err != nil {
		return nil, errors.WithMessage(err, fmt.Sprintf("invalid key in %s", path))
	}
	return key, nil
}

// WriteKey stores key PEM encoded at path, readable by the owner only.
func WriteKey(path string, key *ecdsa.PrivateKey) error {
	raw, err := crypto.PrivateKeyToPEM(key)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return errors.Wrapf(err, "failed creating %s", dir)
		}
	}
	return errors.Wrapf(ioutil.WriteFile(path, raw, 0600), "failed writing key %s", path)
}

// LoadOrCreateKey loads the key at path, generating and storing one of
// strength when the file does not exist.
func LoadOrCreateKey(path string, strength crypto.Strength) (*ecdsa.PrivateKey, error) {
	if _, err := os.Stat(path); err == nil {
		return LoadKey(path)
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed checking key %s", path)
	}
	key, err := crypto.GenerateKey(strength)
	if err != nil {
		return nil, err
	}
	if err := WriteKey(path, key); err != nil {
		return nil, err
	}
	logger.Infof("generated new %s key in %s", strength, path)
	return key, nil
}
