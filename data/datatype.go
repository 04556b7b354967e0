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
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

var (
	ErrUnknownDataType = errors.New("unknown data type")
)

// DataType identifies a kind of market data that providers can serve
type DataType string

const (
	PriceKey     DataType = "price"
	EPSKey       DataType = "eps"
	DividendKey  DataType = "dividend"
	HistoryKey   DataType = "history"
	StockInfoKey DataType = "stock-info"
	SelloffKey   DataType = "selloff"
)

// AllDataTypes lists every data type in display order
var AllDataTypes = []DataType{PriceKey, EPSKey, DividendKey, HistoryKey, StockInfoKey, SelloffKey}

// ParseDataType converts user input (e.g. "Stock-Info", "eps") into a DataType
func ParseDataType(s string) (DataType, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	needle = strings.ReplaceAll(needle, "_", "-")

	switch needle {
	case "prices":
		needle = string(PriceKey)
	case "dividends":
		needle = string(DividendKey)
	case "info", "stockinfo":
		needle = string(StockInfoKey)
	case "selloffs":
		needle = string(SelloffKey)
	}

	for _, dt := range AllDataTypes {
		if string(dt) == needle {
			return dt, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownDataType, s)
}

func (dt DataType) String() string {
	return string(dt)
}

// Decode deserializes a cached payload into the concrete type returned by
// providers for the data type
func Decode(dt DataType, payload []byte) (any, error) {
	switch dt {
	case PriceKey:
		quote := &Quote{}
		err := json.Unmarshal(payload, quote)
		return quote, err
	case EPSKey:
		eps := &EPS{}
		err := json.Unmarshal(payload, eps)
		return eps, err
	case DividendKey:
		divs := make([]*Dividend, 0)
		err := json.Unmarshal(payload, &divs)
		return divs, err
	case HistoryKey:
		bars := make([]*Eod, 0)
		err := json.Unmarshal(payload, &bars)
		return bars, err
	case StockInfoKey:
		asset := &Asset{}
		err := json.Unmarshal(payload, asset)
		return asset, err
	case SelloffKey:
		selloff := &Selloff{}
		err := json.Unmarshal(payload, selloff)
		return selloff, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataType, dt)
	}
}

// Encode serializes a provider payload for storage in the cache
func Encode(payload any) ([]byte, error) {
	return json.Marshal(payload)
}
