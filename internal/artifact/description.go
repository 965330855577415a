package artifact

import (
	"encoding/json"
	"fmt"

	"github.com/buildforge/justb/internal/hashinfo"
)

// descriptionKind tags which of the four Description variants is present.
type descriptionKind int

const (
	descLocal descriptionKind = iota
	descKnown
	descAction
	descTree
)

// Description is the tagged variant of spec.md §3 naming an artifact before
// analysis binds it to a concrete object: Local (repository, workspace path),
// Known (digest, object type), Action (action id, output path), or Tree
// (tree id). Exactly one of the accessor groups is meaningful, gated by Kind.
type Description struct {
	kind descriptionKind

	repository string
	path       string

	digest     Digest
	objectType ObjectType

	actionID   string
	outputPath string

	treeID string
}

func NewLocalDescription(repository, path string) Description {
	return Description{kind: descLocal, repository: repository, path: path}
}

func NewKnownDescription(digest Digest, objType ObjectType) Description {
	return Description{kind: descKnown, digest: digest, objectType: objType}
}

func NewActionDescription(actionID, outputPath string) Description {
	return Description{kind: descAction, actionID: actionID, outputPath: outputPath}
}

func NewTreeDescription(treeID string) Description {
	return Description{kind: descTree, treeID: treeID}
}

func (d Description) IsLocal() bool  { return d.kind == descLocal }
func (d Description) IsKnown() bool  { return d.kind == descKnown }
func (d Description) IsAction() bool { return d.kind == descAction }
func (d Description) IsTree() bool   { return d.kind == descTree }

func (d Description) Local() (repository, path string) { return d.repository, d.path }
func (d Description) Known() (Digest, ObjectType)      { return d.digest, d.objectType }
func (d Description) Action() (actionID, outputPath string) {
	return d.actionID, d.outputPath
}
func (d Description) Tree() string { return d.treeID }

// Equal performs structural equality over the active variant, matching
// spec.md §8 invariant 4's round-trip requirement.
func (d Description) Equal(other Description) bool {
	if d.kind != other.kind {
		return false
	}
	switch d.kind {
	case descLocal:
		return d.repository == other.repository && d.path == other.path
	case descKnown:
		return d.digest.Equal(other.digest) && d.objectType == other.objectType
	case descAction:
		return d.actionID == other.actionID && d.outputPath == other.outputPath
	case descTree:
		return d.treeID == other.treeID
	default:
		return false
	}
}

// jsonDescription is the canonical on-wire projection, tagged by "type" the
// way ArtifactFactory::IsLocal checks description.at("type") == "LOCAL".
type jsonDescription struct {
	Type string `json:"type"`

	Repository string `json:"repository,omitempty"`
	Path       string `json:"path,omitempty"`

	ID        string `json:"id,omitempty"`
	Size      int64  `json:"size,omitempty"`
	HashType  string `json:"hash_type,omitempty"`
	IsTree    bool   `json:"is_tree,omitempty"`
	FileType  string `json:"file_type,omitempty"`

	OutputPath string `json:"output_path,omitempty"`
}

// ToJSON renders the canonical projection of spec.md §3.
func (d Description) ToJSON() ([]byte, error) {
	var jd jsonDescription
	switch d.kind {
	case descLocal:
		jd = jsonDescription{Type: "LOCAL", Repository: d.repository, Path: d.path}
	case descKnown:
		jd = jsonDescription{
			Type:     "KNOWN",
			ID:       d.digest.Hash(),
			Size:     d.digest.Size(),
			HashType: d.digest.HashInfo().HashType().String(),
			IsTree:   d.digest.IsTree(),
			FileType: d.objectType.String(),
		}
	case descAction:
		jd = jsonDescription{Type: "ACTION", ID: d.actionID, OutputPath: d.outputPath}
	case descTree:
		jd = jsonDescription{Type: "TREE", ID: d.treeID}
	default:
		return nil, fmt.Errorf("artifact: description has no variant set")
	}
	return json.Marshal(jd)
}

// FromJSON parses the canonical projection, inverse of ToJSON. Round-trip
// equality is guaranteed for all four variants (spec.md §8 invariant 4).
func FromJSON(data []byte) (Description, error) {
	var jd jsonDescription
	if err := json.Unmarshal(data, &jd); err != nil {
		return Description{}, fmt.Errorf("artifact: parse description: %w", err)
	}
	switch jd.Type {
	case "LOCAL":
		return NewLocalDescription(jd.Repository, jd.Path), nil
	case "KNOWN":
		family, err := parseHashFamily(jd.HashType)
		if err != nil {
			return Description{}, err
		}
		hi, err := hashinfo.Create(family, jd.ID, jd.IsTree)
		if err != nil {
			return Description{}, fmt.Errorf("artifact: parse description: %w", err)
		}
		objType, err := parseObjectType(jd.FileType)
		if err != nil {
			return Description{}, err
		}
		return NewKnownDescription(NewDigest(hi, jd.Size), objType), nil
	case "ACTION":
		return NewActionDescription(jd.ID, jd.OutputPath), nil
	case "TREE":
		return NewTreeDescription(jd.ID), nil
	default:
		return Description{}, fmt.Errorf("artifact: unknown description type %q", jd.Type)
	}
}

func parseHashFamily(s string) (hashinfo.Family, error) {
	switch s {
	case "git-sha1", "":
		return hashinfo.GitSHA1, nil
	case "plain-sha256":
		return hashinfo.PlainSHA256, nil
	default:
		return 0, fmt.Errorf("artifact: unknown hash_type %q", s)
	}
}

func parseObjectType(s string) (ObjectType, error) {
	switch s {
	case "file", "":
		return File, nil
	case "executable":
		return Executable, nil
	case "symlink":
		return Symlink, nil
	case "tree":
		return Tree, nil
	default:
		return 0, fmt.Errorf("artifact: unknown file_type %q", s)
	}
}
