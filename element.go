package fiber

import "fmt"

// Element describes what to render: a type, its props and an optional key identifying it among
// its siblings.
type Element struct {
	Type  any
	Key   string
	Props map[string]any
}

// CreateElement builds an element. A "key" prop becomes the key, children are stored under
// the "children" prop, unwrapped when there is only one.
func CreateElement(typ any, props map[string]any, children ...any) *Element {
	el := &Element{
		Type:  typ,
		Props: make(map[string]any, len(props)+1),
	}

	for k, v := range props {
		if k == "key" {
			if v != nil {
				el.Key = fmt.Sprint(v)
			}
			continue
		}
		el.Props[k] = v
	}

	switch len(children) {
	case 0:
	case 1:
		el.Props["children"] = children[0]
	default:
		el.Props["children"] = children
	}

	return el
}
