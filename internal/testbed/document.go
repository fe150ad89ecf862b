package testbed

import (
	"fmt"
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jreader"
)

// Kind — тип узла разобранного документа.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Member — пара ключ/значение объекта. Порядок членов совпадает с исходным JSON.
type Member struct {
	Key   string
	Value Node
}

// Node — узел документа (tagged union: object / array / scalar).
// Map из encoding/json не годится: обход обязан идти в порядке документа.
type Node struct {
	Kind    Kind
	Bool    bool
	Number  float64
	String  string
	Items   []Node
	Members []Member
}

// Parse разбирает тело ответа ITB в дерево узлов.
func Parse(data []byte) (Node, error) {
	r := jreader.NewReader(data)
	n := readNode(&r)
	if err := r.Error(); err != nil {
		return Node{}, fmt.Errorf("malformed json: %w", err)
	}
	return n, nil
}

func readNode(r *jreader.Reader) Node {
	v := r.Any()
	switch v.Kind {
	case jreader.BoolValue:
		return Node{Kind: KindBool, Bool: v.Bool}
	case jreader.NumberValue:
		return Node{Kind: KindNumber, Number: v.Number}
	case jreader.StringValue:
		return Node{Kind: KindString, String: v.String}
	case jreader.ArrayValue:
		n := Node{Kind: KindArray}
		arr := v.Array
		for arr.Next() {
			n.Items = append(n.Items, readNode(r))
		}
		return n
	case jreader.ObjectValue:
		n := Node{Kind: KindObject}
		obj := v.Object
		for obj.Next() {
			key := string(obj.Name())
			n.Members = append(n.Members, Member{Key: key, Value: readNode(r)})
		}
		return n
	default:
		return Node{Kind: KindNull}
	}
}

// Text возвращает скалярное значение строкой. Для объектов, массивов и null — false.
func (n Node) Text() (string, bool) {
	switch n.Kind {
	case KindString:
		return n.String, true
	case KindNumber:
		return strconv.FormatFloat(n.Number, 'f', -1, 64), true
	case KindBool:
		return strconv.FormatBool(n.Bool), true
	default:
		return "", false
	}
}

// ExtractValues возвращает все значения, привязанные к ключу key на любой глубине:
// depth-first, слева направо, в порядке появления. В найденное значение не спускаемся.
func ExtractValues(n Node, key string) []Node {
	var out []Node
	walk(n, key, &out)
	return out
}

func walk(n Node, key string, out *[]Node) {
	switch n.Kind {
	case KindObject:
		for _, m := range n.Members {
			if m.Key == key {
				*out = append(*out, m.Value)
				continue
			}
			walk(m.Value, key, out)
		}
	case KindArray:
		for _, item := range n.Items {
			walk(item, key, out)
		}
	}
}

// extractStrings — ExtractValues + приведение к строкам. Нескалярное значение — ошибка формата.
// coerced — сколько значений пришло числом или bool вместо строки.
func extractStrings(n Node, key string) (out []string, coerced int, err error) {
	values := ExtractValues(n, key)
	out = make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.Text()
		if !ok {
			return nil, 0, fmt.Errorf("value of %q is not a scalar", key)
		}
		if v.Kind != KindString {
			coerced++
		}
		out = append(out, s)
	}
	return out, coerced, nil
}
