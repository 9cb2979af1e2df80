/*
   openpgp-keychain - OpenPGP keyring construction and storage

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published by
   the Free Software Foundation, version 3.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/tharinduwijewardane/openpgp-keychain/metrics"
)

const (
	DefaultDBPath   = "keychain.db"
	DefaultLogLevel = "INFO"
)

type Settings struct {
	DBPath string `toml:"dbpath"`

	Metrics *metrics.Settings `toml:"metrics"`

	LogFile  string `toml:"logfile"`
	LogLevel string `toml:"loglevel"`
}

func DefaultSettings() Settings {
	return Settings{
		DBPath:   DefaultDBPath,
		LogLevel: DefaultLogLevel,
	}
}

func ParseSettings(data string) (*Settings, error) {
	settings := DefaultSettings()
	_, err := toml.Decode(data, &settings)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &settings, nil
}
