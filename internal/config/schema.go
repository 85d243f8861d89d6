// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

// configSchema validates the on-disk JSON config before it is decoded
// into Config (grounded on the teacher's internal/config/schema.go,
// which keeps its JSON-schema text as a package-level string compiled
// once via santhosh-tekuri/jsonschema/v5).
var configSchema = `
{
  "type": "object",
  "properties": {
    "selfUrn": {
      "description": "The vessels.<urn> context this server's own data is stored and replayed under.",
      "type": "string",
      "pattern": "^vessels\\."
    },
    "addr": {
      "description": "Address the REST/WebSocket listener binds to (for example ':3000').",
      "type": "string"
    },
    "serverName": {
      "type": "string"
    },
    "ingressQueueCapacity": {
      "description": "Bounded capacity of the broker's ingress queue (spec recommends >=1024).",
      "type": "integer",
      "minimum": 1
    },
    "subscriberBufferCapacity": {
      "description": "Capacity of each subscriber's per-connection receive buffer. Decoded into Config only: the broker sizes every subscriber buffer with broker.DefaultSubscriberCapacity and does not read this key.",
      "type": "integer",
      "minimum": 1
    },
    "defaultSubscribeMode": {
      "type": "string",
      "enum": ["self", "all", "none"]
    },
    "sendCachedValues": {
      "type": "boolean"
    },
    "logLevel": {
      "type": "string",
      "enum": ["debug", "info", "notice", "warn", "err", "crit"]
    },
    "logDate": {
      "type": "boolean"
    },
    "nats": {
      "description": "Settings for the NATS-backed provider ingest adapter.",
      "type": "object",
      "properties": {
        "url": { "type": "string" },
        "subject": { "type": "string" }
      },
      "required": ["url", "subject"]
    },
    "user": {
      "description": "Drop root permissions once the listening port is bound. Only applicable on a privileged port.",
      "type": "string"
    },
    "group": {
      "type": "string"
    },
    "gopsAgent": {
      "description": "Start the google/gops diagnostics agent for runtime introspection.",
      "type": "boolean"
    }
  },
  "required": ["selfUrn"]
}`
