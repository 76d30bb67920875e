// Package egress contains the egress stages.
// An egress stage is the consumer side of an elastic channel: it drains
// the channel's receiver capability and delivers messages to an
// external destination.
package egress

import (
	"github.com/FerroO2000/elastico"
	"github.com/FerroO2000/elastico/internal/config"
	"github.com/FerroO2000/elastico/internal/message"
)

type msgEnv = message.Envelope

type msg[T msgEnv] = message.Message[T]

type msgSer = message.Serializable

type recvPort[T msgEnv] = *elastico.Receiver[*msg[T]]

type cfg = config.Config
