// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package extensions holds the vendor extension elements understood by the
// parser. Element names are matched without namespace so zeebe, camunda and
// flowable prefixed documents are all accepted.
package extensions

import "strings"

type TTaskDefinition struct {
	TypeName string `xml:"type,attr"`
	Retries  string `xml:"retries,attr"`
}

type TAssignmentDefinition struct {
	Assignee        string `xml:"assignee,attr"`
	CandidateGroups string `xml:"candidateGroups,attr"`
}

func (ad TAssignmentDefinition) GetCandidateGroups() []string {
	return SplitList(ad.CandidateGroups)
}

type TIoMapping struct {
	Source string `xml:"source,attr"`
	Target string `xml:"target,attr"`
}

type TCalledElement struct {
	ProcessId string `xml:"processId,attr"`
}

type TLoopCharacteristics struct {
	InputCollection  string `xml:"inputCollection,attr,omitempty"`
	InputElement     string `xml:"inputElement,attr"`
	OutputCollection string `xml:"outputCollection,attr"`
	OutputElement    string `xml:"outputElement,attr"`
}

// TScript is the expression flavoured script task of zeebe documents.
type TScript struct {
	Expression     string `xml:"expression,attr"`
	ResultVariable string `xml:"resultVariable,attr"`
}

// SplitList splits a comma separated attribute, dropping empty entries.
func SplitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			res = append(res, part)
		}
	}
	return res
}
