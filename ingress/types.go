// Package ingress contains the ingress stages.
// An ingress stage is the producer side of an elastic channel: it reads
// from an external source and feeds the channel's sender capability.
package ingress

import (
	"github.com/FerroO2000/elastico"
	"github.com/FerroO2000/elastico/internal/config"
	"github.com/FerroO2000/elastico/internal/message"
)

type msgEnv = message.Envelope

type msg[T msgEnv] = message.Message[T]

type msgSer = message.Serializable

type sendPort[T msgEnv] = *elastico.Sender[*msg[T]]

type cfg = config.Config
