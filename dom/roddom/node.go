package roddom

import (
	"github.com/go-rod/rod"

	"github.com/hazyhaar/feedveil/dom"
)

const textJS = `function () {
	const parts = [];
	const walk = (n) => {
		if (n.nodeType === 3) { parts.push(n.nodeValue); return; }
		if (n.nodeType !== 1) return;
		if (n.classList.contains("feedveil-overlay") || n.tagName === "SCRIPT" || n.tagName === "STYLE") return;
		for (const c of n.childNodes) walk(c);
	};
	walk(this);
	return parts.join(" ").replace(/\s+/g, " ").trim();
}`

const ensureOverlayJS = `function (label) {
	if (!this.isConnected) return null;
	for (const c of this.children) {
		if (c.classList.contains("feedveil-overlay")) return false;
	}
	const o = document.createElement("div");
	o.className = "feedveil-overlay";
	o.textContent = label;
	Object.assign(o.style, {
		position: "absolute", top: "0", left: "0", right: "0", bottom: "0",
		display: "flex", justifyContent: "center", alignItems: "center",
		background: "rgba(0,0,0,1)", color: "#fff", zIndex: "9999", fontSize: "18px",
	});
	this.style.position = "relative";
	this.appendChild(o);
	return true;
}`

const setOverlayTextJS = `function (label) {
	if (!this.isConnected) return null;
	for (const c of this.children) {
		if (c.classList.contains("feedveil-overlay")) { c.textContent = label; return true; }
	}
	return false;
}`

const removeOverlayJS = `function () {
	if (!this.isConnected) return null;
	for (const c of Array.from(this.children)) {
		if (c.classList.contains("feedveil-overlay")) c.remove();
	}
	return true;
}`

const overlayTextJS = `function () {
	for (const c of this.children) {
		if (c.classList.contains("feedveil-overlay")) return { has: true, text: c.textContent };
	}
	return { has: false, text: "" };
}`

type node struct {
	p      *Page
	el     *rod.Element
	anchor *dom.Anchor
}

var _ dom.Node = (*node)(nil)

func (n *node) op() *rod.Element { return n.el.Timeout(n.p.cfg.OpTimeout) }

func (n *node) Anchor() *dom.Anchor { return n.anchor }

func (n *node) Matches(selector string) bool {
	ok, err := n.op().Matches(selector)
	return err == nil && ok
}

func (n *node) QueryAll(selector string) []dom.Node {
	els, err := n.op().Elements(selector)
	if err != nil {
		return nil
	}
	var out []dom.Node
	for _, el := range els {
		if isOverlayElement(el) {
			continue
		}
		w, err := n.p.wrap(el)
		if err != nil {
			continue
		}
		out = append(out, w)
	}
	return out
}

func (n *node) Text() string {
	res, err := n.op().Eval(textJS)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func (n *node) Attr(name string) (string, bool) {
	v, err := n.op().Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

func (n *node) Attached() bool { return connected(n.op()) }

func (n *node) EnsureOverlay(label string) (bool, error) {
	res, err := n.op().Eval(ensureOverlayJS, label)
	if err != nil {
		return false, err
	}
	if res.Value.Nil() {
		return false, dom.ErrDetached
	}
	return res.Value.Bool(), nil
}

func (n *node) SetOverlayText(label string) error {
	res, err := n.op().Eval(setOverlayTextJS, label)
	if err != nil {
		return err
	}
	if res.Value.Nil() {
		return dom.ErrDetached
	}
	return nil
}

func (n *node) RemoveOverlay() error {
	res, err := n.op().Eval(removeOverlayJS)
	if err != nil {
		return err
	}
	if res.Value.Nil() {
		return dom.ErrDetached
	}
	return nil
}

func (n *node) OverlayText() (string, bool) {
	res, err := n.op().Eval(overlayTextJS)
	if err != nil {
		return "", false
	}
	return res.Value.Get("text").Str(), res.Value.Get("has").Bool()
}

func isOverlayElement(el *rod.Element) bool {
	res, err := el.Eval(`function () { return !!this.closest(".feedveil-overlay"); }`)
	return err == nil && res.Value.Bool()
}
