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
package healthcheck

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gosimple/slug"
	"github.com/spf13/viper"
)

var (
	ErrStatus = errors.New("status code is invalid")
)

const (
	defaultAPIURL  = "https://healthchecks.io/api/v3"
	defaultPingURL = "https://hc-ping.com"
)

type createReq struct {
	Name        string `json:"name"`
	Description string `json:"desc,omitempty"`
	Grace       int    `json:"grace"`
	Schedule    string `json:"schedule"`
	Slug        string `json:"slug"`
	Tags        string `json:"tags"`
	Timezone    string `json:"tz"`
}

type createResp struct {
	PingURL string `json:"ping_url"`
}

// Client talks to the healthchecks.io management and ping APIs
type Client struct {
	APIKey  string
	APIURL  string
	PingURL string

	client *resty.Client
}

func New(apiKey string) *Client {
	return &Client{
		APIKey:  apiKey,
		APIURL:  defaultAPIURL,
		PingURL: defaultPingURL,
		client:  resty.New().SetTimeout(10 * time.Second),
	}
}

// NewFromConfig reads the API key from healthchecks.apikey
func NewFromConfig() *Client {
	return New(viper.GetString("healthchecks.apikey"))
}

func (c *Client) request() *resty.Request {
	return c.client.R().
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Api-Key", c.APIKey)
}

func checkStatus(resp *resty.Response, err error, accepted ...int) error {
	if err != nil {
		return err
	}

	for _, code := range accepted {
		if resp.StatusCode() == code {
			return nil
		}
	}

	return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode())
}

// Create a new healthchecks.io check and return the id. An empty slug is
// derived from the name.
func (c *Client) Create(name string, checkSlug string, tags []string, schedule string) (string, error) {
	if checkSlug == "" {
		checkSlug = slug.Make(name)
	}

	command := createReq{
		Name:     name,
		Slug:     checkSlug,
		Tags:     strings.Join(tags, " "),
		Grace:    3600,
		Schedule: schedule,
		Timezone: "America/New_York",
	}

	result := createResp{}

	resp, err := c.request().
		SetBody(command).
		SetResult(&result).
		Post(c.APIURL + "/checks/")

	if err := checkStatus(resp, err, 200, 201); err != nil {
		return "", err
	}

	checkID := strings.Split(result.PingURL, "/")
	healthCheckID := checkID[len(checkID)-1]

	return healthCheckID, nil
}

// Ping signals a successful run
func (c *Client) Ping(id string) error {
	resp, err := c.client.R().Get(fmt.Sprintf("%s/%s", c.PingURL, id))
	return checkStatus(resp, err, 200)
}

// Fail signals a failed run
func (c *Client) Fail(id string) error {
	resp, err := c.client.R().Get(fmt.Sprintf("%s/%s/fail", c.PingURL, id))
	return checkStatus(resp, err, 200)
}

// Delete a health check
func (c *Client) Delete(id string) error {
	resp, err := c.request().Delete(fmt.Sprintf("%s/checks/%s", c.APIURL, id))
	return checkStatus(resp, err, 200)
}

// Pause monitoring of a health check
func (c *Client) Pause(id string) error {
	resp, err := c.request().Post(fmt.Sprintf("%s/checks/%s/pause", c.APIURL, id))
	return checkStatus(resp, err, 200)
}

// Resume monitoring of a health check
func (c *Client) Resume(id string) error {
	resp, err := c.request().Post(fmt.Sprintf("%s/checks/%s/resume", c.APIURL, id))
	return checkStatus(resp, err, 200)
}
