package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// FQID is a fully qualified instance id: "<collection>/<id>".
type FQID string

// NewFQID builds the FQID of instance id in collection.
func NewFQID(collection string, id int64) FQID {
	return FQID(collection + "/" + strconv.FormatInt(id, 10))
}

// ParseFQID splits an FQID into collection and id.
func ParseFQID(s string) (FQID, error) {
	coll, idPart, ok := strings.Cut(s, "/")
	if !ok || coll == "" {
		return "", fmt.Errorf("invalid fqid %q", s)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return "", fmt.Errorf("invalid fqid %q", s)
	}
	for _, r := range coll {
		if (r < 'a' || r > 'z') && r != '_' {
			return "", fmt.Errorf("invalid fqid %q", s)
		}
	}
	return FQID(s), nil
}

// MustFQID parses s and panics on error. Tests and static tables only.
func MustFQID(s string) FQID {
	f, err := ParseFQID(s)
	if err != nil {
		panic(err)
	}
	return f
}

// Collection returns the collection part.
func (f FQID) Collection() string {
	coll, _, _ := strings.Cut(string(f), "/")
	return coll
}

// ID returns the numeric part, or 0 if malformed.
func (f FQID) ID() int64 {
	_, idPart, _ := strings.Cut(string(f), "/")
	id, _ := strconv.ParseInt(idPart, 10, 64)
	return id
}

func (f FQID) String() string { return string(f) }

// FQField addresses a single field of an instance: "<collection>/<id>/<field>".
type FQField struct {
	FQID  FQID
	Field string
}

func (f FQField) String() string { return string(f.FQID) + "/" + f.Field }
