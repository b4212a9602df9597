// Package diff compares two rendered HTML fragments and produces the ordered
// patch list the client applies to its live DOM.
package diff

// Op identifies a patch operation.
type Op string

const (
	// OpMorph replaces the container's entire content. Emitted when a
	// structural diff is not possible (e.g. the previous render failed to
	// parse into anything comparable).
	OpMorph Op = "morph"
	// OpReplace swaps the target's outer markup for new HTML.
	OpReplace Op = "replace"
	// OpAppend inserts HTML as the target's last child.
	OpAppend Op = "append"
	// OpPrepend inserts HTML as the target's first child.
	OpPrepend Op = "prepend"
	// OpRemove detaches the target.
	OpRemove Op = "remove"
	// OpUpdateAttr sets a single attribute on the target.
	OpUpdateAttr Op = "update_attr"
	// OpRemoveAttr removes a single attribute from the target.
	OpRemoveAttr Op = "remove_attr"
)

// Patch is one DOM mutation. Selector addresses the target node relative to
// the patch container; an empty selector addresses the container itself.
// Patches are applied strictly in list order, so every selector must remain
// valid after the patches before it have been applied.
type Patch struct {
	Op       Op     `json:"op"`
	Selector string `json:"selector"`
	HTML     string `json:"html,omitempty"`
	Attr     string `json:"attr,omitempty"`
	Value    string `json:"value,omitempty"`
}
