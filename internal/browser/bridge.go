package browser

import (
	"encoding/json"
	"fmt"
)

// Binding names exposed to the host page through Runtime.addBinding.
const (
	bindingFrame      = "replayctlFrame"
	bindingBroadcast  = "replayctlBroadcast"
	bindingFullscreen = "replayctlFullscreen"
)

// Sink receives everything the host page reports.
// *replay.Controller satisfies it.
type Sink interface {
	DeliverFrameMessage(sender string, raw []byte)
	DeliverBroadcast(raw []byte)
	FullscreenChanged(active bool)
}

const hostHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>replayctl</title>
<style>
html, body, #replay-host { margin: 0; padding: 0; width: 100%; height: 100%; overflow: hidden; }
#replay-host iframe { border: 0; width: 100%; height: 100%; }
</style>
</head>
<body><div id="replay-host"></div></body>
</html>`

// bridgeJS installs window.__replayctl on the host page. Every mounted
// iframe window is remembered with its sender id, so a message from a
// replaced document still carries the id it was mounted with.
const bridgeJS = `() => {
	const w = window;
	if (w.__replayctl) return true;

	const senders = new WeakMap();
	const frame = () => document.getElementById("replay-frame");

	w.__replayctl = {
		mount(sender, src) {
			const host = document.getElementById("replay-host");
			host.querySelectorAll("iframe").forEach((f) => f.remove());
			if (!src) return true;
			const f = document.createElement("iframe");
			f.id = "replay-frame";
			f.setAttribute("allow", "autoplay 'self'; fullscreen");
			host.appendChild(f);
			senders.set(f.contentWindow, sender);
			f.src = src;
			return true;
		},
		reload() {
			const f = frame();
			if (!f || !f.contentWindow) return false;
			f.contentWindow.location.reload();
			return true;
		},
		inspect() {
			const f = frame();
			try {
				if (!f || !f.contentDocument || !f.contentWindow) {
					return JSON.stringify({missing: true});
				}
				return JSON.stringify({
					ready: f.contentDocument.readyState,
					runtime: !!f.contentWindow._WBWombat,
				});
			} catch (e) {
				return JSON.stringify({missing: true});
			}
		},
	};

	w.addEventListener("message", (ev) => {
		const sender = senders.get(ev.source);
		if (!sender || !ev.data || typeof ev.data !== "object" || !ev.data.wb_type) return;
		w.` + bindingFrame + `(JSON.stringify({sender, data: ev.data}));
	});

	if (navigator.serviceWorker) {
		navigator.serviceWorker.addEventListener("message", (ev) => {
			try {
				w.` + bindingBroadcast + `(JSON.stringify(ev.data));
			} catch (e) {}
		});
	}

	document.addEventListener("fullscreenchange", () => {
		w.` + bindingFullscreen + `(document.fullscreenElement ? "1" : "0");
	});
	return true;
}`

const (
	mountJS             = `(sender, src) => window.__replayctl.mount(sender, src)`
	reloadJS            = `() => window.__replayctl.reload()`
	inspectJS           = `() => window.__replayctl.inspect()`
	requestFullscreenJS = `() => document.getElementById("replay-host").requestFullscreen()`
	exitFullscreenJS    = `() => document.fullscreenElement ? document.exitFullscreen() : undefined`
)

type framePayload struct {
	Sender string          `json:"sender"`
	Data   json.RawMessage `json:"data"`
}

type inspectResult struct {
	Missing bool   `json:"missing"`
	Ready   string `json:"ready"`
	Runtime bool   `json:"runtime"`
}

// dispatch routes one binding call to the sink.
func dispatch(sink Sink, name, payload string) error {
	switch name {
	case bindingFrame:
		var p framePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("decode frame payload: %w", err)
		}
		sink.DeliverFrameMessage(p.Sender, p.Data)
	case bindingBroadcast:
		sink.DeliverBroadcast([]byte(payload))
	case bindingFullscreen:
		sink.FullscreenChanged(payload == "1")
	default:
		return fmt.Errorf("unknown binding %q", name)
	}
	return nil
}
