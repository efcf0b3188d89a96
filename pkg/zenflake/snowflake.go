// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package zenflake

import (
	"fmt"
	"hash/adler32"
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
)

var (
	// NodeBits holds the number of bits to use for Node
	// Remember, you have a total 22 bits to share between Node/Step
	NodeBits uint8 = 10

	// StepBits holds the number of bits to use for Step
	// Remember, you have a total 22 bits to share between Node/Step
	StepBits uint8 = 12

	// internal values of bwmarrin/snowflake
	nodeMax   int64 = -1 ^ (-1 << NodeBits)
	nodeMask        = nodeMax << StepBits
	nodeShift       = StepBits
)

// Generator hands out unique, roughly time ordered int64 ids.
type Generator struct {
	node *snowflake.Node
}

// NewGenerator creates a generator for the given node id (0..1023).
func NewGenerator(nodeId int64) (*Generator, error) {
	snowflake.NodeBits = NodeBits
	snowflake.StepBits = StepBits
	node, err := snowflake.NewNode(nodeId)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeId, err)
	}
	return &Generator{node: node}, nil
}

// NewGeneratorFromEnv derives the node id from the host name and process id.
// Two processes on the same host get different node ids with high probability.
func NewGeneratorFromEnv() *Generator {
	host, _ := os.Hostname()
	hash32 := adler32.New()
	_, _ = hash32.Write([]byte(host))
	_, _ = hash32.Write([]byte(strconv.Itoa(os.Getpid())))
	g, err := NewGenerator(int64(hash32.Sum32()) & nodeMax)
	if err != nil {
		panic("can't initialize snowflake ID generator. Message: " + err.Error())
	}
	return g
}

func (g *Generator) Generate() int64 {
	return g.node.Generate().Int64()
}

// NodeOf returns the node id encoded in id.
func NodeOf(id int64) int64 {
	return (id & nodeMask) >> int64(nodeShift)
}
