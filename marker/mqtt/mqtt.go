/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package mqtt publishes rebuilt marker sets to an MQTT broker.
//
// A set for target T with key K goes to topic "PREFIX/T/K" as its
// JSON snapshot.  Retained messages let a late subscriber get the
// current sets right away.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/Comcast/entitymarkers/marker"
)

const (
	DefaultPrefix  = "entitymarkers"
	DefaultTimeout = 5 * time.Second
)

var Timeout = errors.New("mqtt timeout")

// Client is the part of a Paho client we need.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string

	Prefix string
	QoS    byte
	Retain bool

	// Timeout bounds each publish and the initial connection.
	Timeout time.Duration

	// Quiesce is the disconnection quiescence in milliseconds.
	Quiesce uint
}

// Publisher is a marker.Publisher.
type Publisher struct {
	Client Client
	Logger *zap.Logger

	prefix  string
	qos     byte
	retain  bool
	timeout time.Duration
}

func New(c Client, o Options, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := strings.TrimSuffix(o.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Publisher{
		Client:  c,
		Logger:  logger,
		prefix:  prefix,
		qos:     o.QoS,
		retain:  o.Retain,
		timeout: timeout,
	}
}

// Dial makes and connects a Paho client.
func Dial(o Options, logger *zap.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetConnectTimeout(timeout)
	opts.Username = o.Username
	opts.Password = o.Password
	opts.AutoReconnect = true
	opts.CleanSession = true

	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	}

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("%w: connecting to %s", Timeout, o.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	logger.Info("connected to broker", zap.String("broker", o.Broker))
	return c, nil
}

// Topic is where a set is published.
func (p *Publisher) Topic(targetID, key string) string {
	return p.prefix + "/" + targetID + "/" + key
}

func (p *Publisher) Publish(ctx context.Context, targetID, key string, snap *marker.Snapshot) error {
	js, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	topic := p.Topic(targetID, key)
	token := p.Client.Publish(topic, p.qos, p.retain, js)

	timeout := p.timeout
	if deadline, have := ctx.Deadline(); have {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: publishing to %s", Timeout, topic)
	}
	if err = token.Error(); err != nil {
		return err
	}
	p.Logger.Debug("published",
		zap.String("topic", topic),
		zap.Int("markers", len(snap.Markers)))
	return nil
}
