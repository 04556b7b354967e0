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
package data

import (
	"time"
)

type AssetType string

const (
	CommonStock  AssetType = "CS"
	ETF          AssetType = "ETF"
	ETN          AssetType = "ETN"
	CEF          AssetType = "CEF"
	MutualFund   AssetType = "MF"
	ADRC         AssetType = "ADRC"
	UnknownAsset AssetType = "Unknown"
)

// Asset holds descriptive stock information
type Asset struct {
	Ticker               string    `json:"ticker"`
	Name                 string    `json:"name"`
	Description          string    `json:"description,omitempty"`
	PrimaryExchange      string    `json:"primary_exchange"`
	AssetType            AssetType `json:"asset_type"`
	CompositeFigi        string    `json:"composite_figi,omitempty"`
	ShareClassFigi       string    `json:"share_class_figi,omitempty"`
	Active               bool      `json:"active"`
	CIK                  string    `json:"cik,omitempty"`
	SIC                  int       `json:"sic,omitempty"`
	ListingDate          string    `json:"listing_date,omitempty"`
	DelistingDate        string    `json:"delisting_date,omitempty"`
	Industry             string    `json:"industry,omitempty"`
	Sector               string    `json:"sector,omitempty"`
	CorporateUrl         string    `json:"corporate_url,omitempty"`
	HeadquartersLocation string    `json:"headquarters_location,omitempty"`
	LastUpdated          time.Time `json:"last_updated"`
}
