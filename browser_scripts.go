package main

import (
	"fmt"

	"github.com/go-json-experiment/json"
)

// name of the runtime binding the instrumentation script reports through
const bindingName = "__pageDiagnosticsEmit"

// script injected into every new top-level document. It reports the
// document snapshot when the DOM is ready, the load timing after the
// window load event, the load of every script and stylesheet present at
// ready, and every mutation batch under the body.
const instrumentScript = `(() => {
	if (window.top !== window || window.__pageDiagnostics) return;

	const doc = Math.random().toString(36).slice(2) + Date.now().toString(36);
	window.__pageDiagnostics = doc;

	const emit = (msg) => {
		msg.document = doc;
		try {
			window.__pageDiagnosticsEmit(JSON.stringify(msg));
		} catch (e) {
			// binding unavailable, nothing to report to
		}
	};

	const resources = () => performance.getEntriesByType('resource').map(res => ({
		name: res.name,
		initiatorType: res.initiatorType,
		duration: res.duration,
		transferSize: res.transferSize || 0,
		responseStatus: res.responseStatus || 0,
	}));

	const ready = () => {
		emit({
			type: 'ready',
			snapshot: {
				url: location.href,
				protocol: location.protocol,
				html: document.documentElement.outerHTML,
				resources: resources(),
			},
		});

		// only elements present right now are instrumented
		document.querySelectorAll('script').forEach(script => {
			if (!script.src) return;
			const startTime = performance.now();
			script.addEventListener('load', () => {
				emit({ type: 'resource', kind: 'script', url: script.src, startTime, endTime: performance.now() });
			});
		});

		document.querySelectorAll('link[rel="stylesheet"]').forEach(link => {
			const startTime = performance.now();
			link.addEventListener('load', () => {
				emit({ type: 'resource', kind: 'stylesheet', url: link.href, startTime, endTime: performance.now() });
			});
		});

		if (!document.body) return;
		new MutationObserver(mutations => {
			emit({
				type: 'mutations',
				mutations: mutations.map(m => ({
					type: m.type,
					addedNodes: m.addedNodes.length,
					removedNodes: m.removedNodes.length,
				})),
			});
		}).observe(document.body, { childList: true, subtree: true });
	};

	window.addEventListener('load', () => {
		// loadEventEnd is only set once the load handlers returned
		setTimeout(() => {
			const t = performance.timing;
			emit({
				type: 'load',
				timing: {
					navigationStart: t.navigationStart,
					responseStart: t.responseStart,
					domContentLoadedEventEnd: t.domContentLoadedEventEnd,
					loadEventEnd: t.loadEventEnd,
				},
			});
		}, 0);
	});

	if (document.readyState === 'loading') {
		document.addEventListener('DOMContentLoaded', ready);
	} else {
		ready();
	}
})();`

// extensionScript returns an expression appending an external script
// with the given src to the document body
func extensionScript(src string) (string, error) {
	quoted, err := json.Marshal(src)
	if err != nil {
		return "", fmt.Errorf("failed to quote extension URL: %w", err)
	}

	return fmt.Sprintf(`(() => {
	const script = document.createElement('script');
	script.src = %s;
	(document.body || document.documentElement).appendChild(script);
	return true;
})()`, quoted), nil
}
