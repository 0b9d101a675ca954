package protocol

const (
	PatchOpAdd     = "add"
	PatchOpReplace = "replace"
	PatchOpRemove  = "remove"
)

// PatchOp is one rfc 6902 structural operation against the view-model.
type PatchOp struct {
	Op    string
	Path  string
	Value any
}

func (self PatchOp) wire() map[string]any {
	w := map[string]any{
		"op":   self.Op,
		"path": self.Path,
	}
	if self.Op != PatchOpRemove {
		w["value"] = self.Value
	}
	return w
}

// op builders validate the path by round-tripping through the pointer
// parser. a malformed path is a contract breach by the caller.

func NewAddOp(path string, value any) (PatchOp, error) {
	if err := validatePatchPath(path); err != nil {
		return PatchOp{}, err
	}
	return PatchOp{Op: PatchOpAdd, Path: path, Value: value}, nil
}

func NewReplaceOp(path string, value any) (PatchOp, error) {
	if err := validatePatchPath(path); err != nil {
		return PatchOp{}, err
	}
	return PatchOp{Op: PatchOpReplace, Path: path, Value: value}, nil
}

func NewRemoveOp(path string) (PatchOp, error) {
	if err := validatePatchPath(path); err != nil {
		return PatchOp{}, err
	}
	return PatchOp{Op: PatchOpRemove, Path: path}, nil
}

func RequireAddOp(path string, value any) PatchOp {
	op, err := NewAddOp(path, value)
	if err != nil {
		panic(err)
	}
	return op
}

func RequireReplaceOp(path string, value any) PatchOp {
	op, err := NewReplaceOp(path, value)
	if err != nil {
		panic(err)
	}
	return op
}

func RequireRemoveOp(path string) PatchOp {
	op, err := NewRemoveOp(path)
	if err != nil {
		panic(err)
	}
	return op
}

func validatePatchPath(path string) error {
	tokens, err := ParsePointer(path)
	if err != nil {
		return err
	}
	if Pointer(tokens...) != path {
		return &PointerError{Kind: ErrorKindInvalidPointer, Pointer: path}
	}
	return nil
}
