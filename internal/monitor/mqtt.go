// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package monitor

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/shopspring/decimal"
)

// Publisher is the subset of mqtt.Client used for reporting.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Timeout  time.Duration
}

// DialMQTT connects to the broker and keeps reconnecting in the background.
func DialMQTT(opts MQTTOptions) (mqtt.Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	mo := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(opts.Timeout)
	if opts.Username != "" {
		mo.SetUsername(opts.Username)
		mo.SetPassword(opts.Password)
	}

	client := mqtt.NewClient(mo)
	tok := client.Connect()
	if !tok.WaitTimeout(opts.Timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out after %v", opts.Broker, opts.Timeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", opts.Broker, err)
	}
	return client, nil
}

// MQTTReporter publishes each report as one JSON message.
type MQTTReporter struct {
	client  Publisher
	topic   string
	qos     byte
	timeout time.Duration
}

func NewMQTTReporter(client Publisher, topic string, qos byte, timeout time.Duration) *MQTTReporter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTReporter{client: client, topic: topic, qos: qos, timeout: timeout}
}

func (m *MQTTReporter) Name() string { return "mqtt" }

type readingPayload struct {
	Name  string           `json:"name"`
	Value *decimal.Decimal `json:"value"`
	Unit  string           `json:"unit,omitempty"`
}

type reportPayload struct {
	ID       string            `json:"id"`
	At       time.Time         `json:"at"`
	Samples  int               `json:"samples"`
	Voltages []decimal.Decimal `json:"voltages"`
	Readings []readingPayload  `json:"readings"`
}

// Encode renders r as the JSON payload. Values are rounded to two
// decimals; a reading without data is null.
func Encode(r Report) ([]byte, error) {
	p := reportPayload{
		ID:       r.ID.String(),
		At:       r.At.UTC(),
		Samples:  r.Samples,
		Voltages: make([]decimal.Decimal, 0, len(r.Voltages)),
		Readings: make([]readingPayload, 0, len(r.Readings)),
	}
	for _, v := range r.Voltages {
		p.Voltages = append(p.Voltages, round2(v))
	}
	for _, reading := range r.Readings {
		rp := readingPayload{Name: reading.Name, Unit: reading.Unit}
		if reading.Valid {
			v := round2(reading.Value)
			rp.Value = &v
		}
		p.Readings = append(p.Readings, rp)
	}
	return json.Marshal(p)
}

func (m *MQTTReporter) Report(r Report) error {
	payload, err := Encode(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	tok := m.client.Publish(m.topic, m.qos, false, payload)
	if !tok.WaitTimeout(m.timeout) {
		return fmt.Errorf("publish to %s: timed out after %v", m.topic, m.timeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.topic, err)
	}
	return nil
}
