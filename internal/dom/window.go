package dom

import (
	"sync"

	"github.com/google/uuid"
)

// Window 一个打开的文档句柄
// 会话持有Window而不是Document,每次访问前检查窗口是否仍然打开
type Window struct {
	id string

	mu     sync.RWMutex
	doc    *Document
	closed bool
}

// NewWindow 为文档创建窗口
func NewWindow(doc *Document) *Window {
	return &Window{
		id:  uuid.New().String(),
		doc: doc,
	}
}

// ID 窗口标识
func (w *Window) ID() string {
	return w.id
}

// Document 返回窗口文档,窗口已关闭时返回false
func (w *Window) Document() (*Document, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed || w.doc == nil {
		return nil, false
	}
	return w.doc, true
}

// IsOpen 窗口是否仍然打开
func (w *Window) IsOpen() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !w.closed
}

// Close 关闭窗口,之后Document()不再返回文档
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.doc = nil
}

// Workspace 当前打开的窗口列表
type Workspace struct {
	mu      sync.RWMutex
	order   []string
	windows map[string]*Window
}

// NewWorkspace 创建空工作区
func NewWorkspace() *Workspace {
	return &Workspace{
		windows: make(map[string]*Window),
	}
}

// Open 打开文档,返回新窗口
func (ws *Workspace) Open(doc *Document) *Window {
	w := NewWindow(doc)

	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.windows[w.id] = w
	ws.order = append(ws.order, w.id)
	return w
}

// Windows 按打开顺序返回仍然打开的窗口
func (ws *Workspace) Windows() []*Window {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	result := make([]*Window, 0, len(ws.order))
	for _, id := range ws.order {
		if w, ok := ws.windows[id]; ok && w.IsOpen() {
			result = append(result, w)
		}
	}
	return result
}

// Lookup 按ID查找窗口
func (ws *Workspace) Lookup(id string) (*Window, bool) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	w, ok := ws.windows[id]
	if !ok || !w.IsOpen() {
		return nil, false
	}
	return w, true
}

// Close 关闭并移除窗口
func (ws *Workspace) Close(id string) {
	ws.mu.Lock()
	w, ok := ws.windows[id]
	delete(ws.windows, id)
	for i, oid := range ws.order {
		if oid == id {
			ws.order = append(ws.order[:i], ws.order[i+1:]...)
			break
		}
	}
	ws.mu.Unlock()

	if ok {
		w.Close()
	}
}
