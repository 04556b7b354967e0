// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package provider

import (
	"os"
	"path/filepath"

	"github.com/penny-vault/pvquote/backblaze"
	"github.com/spf13/viper"
)

// Default constructs every known source from process configuration. The
// returned order is the registration order used when a data type has no
// configured preference.
func Default() []Provider {
	return []Provider{
		NewTiingo(ClientConfig{APIKey: viper.GetString("tiingo.apikey")}),
		NewPolygon(ClientConfig{APIKey: viper.GetString("polygon.apikey")}),
		NewNasdaq(ClientConfig{APIKey: viper.GetString("nasdaq.apikey")}),
		NewEdgar(ClientConfig{}, viper.GetString("edgar.user_agent")),
		NewOpenFigi(ClientConfig{APIKey: viper.GetString("openfigi.apikey")}),
		NewZacks(ZacksConfig{
			Username:    viper.GetString("zacks.username"),
			Password:    viper.GetString("zacks.password"),
			ScreenID:    viper.GetString("zacks.screen_id"),
			SnapshotDir: snapshotDir(),
			Headless:    viper.GetBool("playwright.headless"),
			UserAgent:   viper.GetString("user_agent"),
			Uploader: &backblaze.Uploader{
				KeyID:          viper.GetString("backblaze.application_id"),
				ApplicationKey: viper.GetString("backblaze.application_key"),
				Bucket:         viper.GetString("backblaze.bucket"),
			},
		}),
	}
}

func snapshotDir() string {
	if dir := viper.GetString("zacks.snapshot_dir"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pvquote", "zacks")
	}

	return filepath.Join(home, ".pvquote", "zacks")
}
