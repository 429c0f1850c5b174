// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package workload

import (
	"encoding/base64"
	"fmt"

	"github.com/noldarim/wlctl/pkg/statetree"
)

const (
	fileMountPoint = "mountPoint"
	fileData       = "data"
	fileBinaryData = "binaryData"
)

// File is mounted into the workload's container. It holds either text or
// base64 encoded binary content.
type File struct {
	MountPoint string
	Data       string
	BinaryData string
}

// TextFile returns a file with text content.
func TextFile(mountPoint, content string) File {
	return File{MountPoint: mountPoint, Data: content}
}

// BinaryFile returns a file with binary content, base64 encoded.
func BinaryFile(mountPoint string, content []byte) File {
	return File{MountPoint: mountPoint, BinaryData: base64.StdEncoding.EncodeToString(content)}
}

// IsBinary reports whether the file carries binary content.
func (f File) IsBinary() bool { return f.BinaryData != "" }

func (f File) validate() *ValidationError {
	field := fmt.Sprintf("file '%s'", f.MountPoint)
	switch {
	case f.MountPoint == "":
		return &ValidationError{Field: "file", Message: "mount point is required"}
	case f.Data != "" && f.BinaryData != "":
		return &ValidationError{Field: field, Message: "cannot hold both text and binary data"}
	case f.BinaryData != "":
		if _, err := base64.StdEncoding.DecodeString(f.BinaryData); err != nil {
			return &ValidationError{Field: field, Message: "binary data is not valid base64"}
		}
	}
	return nil
}

func (f File) toNode() *statetree.Node {
	n := statetree.NewMapping()
	n.Set(fileMountPoint, statetree.NewString(f.MountPoint))
	if f.IsBinary() {
		n.Set(fileBinaryData, statetree.NewString(f.BinaryData))
	} else {
		n.Set(fileData, statetree.NewString(f.Data))
	}
	return n
}

func fileFromNode(n *statetree.Node) (File, error) {
	if !n.IsMapping() {
		return File{}, ValidationError{Field: FieldFiles, Message: "entry must be a mapping"}
	}
	var f File
	if c, ok := n.Child(fileMountPoint); ok {
		f.MountPoint = c.StringOr("")
	}
	if c, ok := n.Child(fileData); ok {
		f.Data = c.StringOr("")
	}
	if c, ok := n.Child(fileBinaryData); ok {
		f.BinaryData = c.StringOr("")
	}
	if f.MountPoint == "" {
		return File{}, ValidationError{Field: FieldFiles, Message: "entry without mount point"}
	}
	if f.Data == "" && f.BinaryData == "" {
		return File{}, ValidationError{Field: FieldFiles, Message: fmt.Sprintf("file '%s' has no content", f.MountPoint)}
	}
	return f, nil
}
