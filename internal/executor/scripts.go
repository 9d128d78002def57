// File: internal/executor/scripts.go
package executor

import (
	"fmt"

	"github.com/tara-ai/copilot-cli/internal/browser"
)

// findTargetJS is the shared resolution ladder: DOM id, collector id,
// name/data-testid, fuzzy text match, and finally a partial id-attribute
// match. Embedded at the top of every targeted action script.
const findTargetJS = `
	function findTarget(id, fallback) {
		let el = null;
		if (id) {
			el = document.getElementById(id);
			if (!el) {
				try { el = document.querySelector('[data-copilot-id=' + CSS.escape(id) + ']'); } catch (e) {}
			}
			if (!el) {
				try {
					el = document.querySelector('[name=' + CSS.escape(id) + ']') ||
						document.querySelector('[data-testid=' + CSS.escape(id) + ']');
				} catch (e) {}
			}
		}
		if (!el && fallback) {
			const want = fallback.trim().toLowerCase();
			if (want) {
				const pool = document.querySelectorAll(
					'button, a, input, select, textarea, label, [role], [data-copilot-id], h1, h2, h3');
				for (const cand of pool) {
					const txt = (cand.innerText || cand.value || cand.getAttribute('aria-label') || '')
						.trim().toLowerCase();
					if (!txt) continue;
					if (txt === want || (want.length > 5 && txt.includes(want))) { el = cand; break; }
				}
			}
		}
		if (!el && id) {
			try { el = document.querySelector('[id*=' + CSS.escape(id) + ']'); } catch (e) {}
		}
		return el;
	}
`

// ghost cursor overlay id and shared overlay class.
const overlayJS = `
	function ghostCursor() {
		let cursor = document.getElementById('__vc_cursor');
		if (!cursor) {
			cursor = document.createElement('div');
			cursor.id = '__vc_cursor';
			cursor.style.cssText = 'position:fixed;width:14px;height:14px;border-radius:50%;' +
				'background:rgba(99,102,241,0.85);border:2px solid #fff;' +
				'box-shadow:0 0 8px rgba(0,0,0,0.35);pointer-events:none;' +
				'z-index:2147483647;left:24px;top:24px;';
			document.body.appendChild(cursor);
		}
		return cursor;
	}
	function vcOverlay(cls, css) {
		const node = document.createElement('div');
		node.className = '__vc_overlay ' + cls;
		node.style.cssText = css;
		document.body.appendChild(node);
		return node;
	}
	function clearOverlays() {
		document.querySelectorAll('.__vc_overlay').forEach(n => n.remove());
	}
`

// clickScript animates the ghost cursor to the target with a cubic ease-out,
// then dispatches the full mouse sequence plus a native click fallback.
func clickScript(targetID, fallbackText string) string {
	return fmt.Sprintf(`(function() {
	%s
	%s
	const target = findTarget(%s, %s);
	if (!target) return Promise.resolve({found: false});
	target.scrollIntoView({block: 'nearest', inline: 'nearest'});
	const rect = target.getBoundingClientRect();
	const cx = rect.left + rect.width / 2;
	const cy = rect.top + rect.height / 2;
	const cursor = ghostCursor();
	const startX = parseFloat(cursor.style.left) || 24;
	const startY = parseFloat(cursor.style.top) || 24;
	const duration = 500;
	const t0 = performance.now();
	return new Promise(resolve => {
		function step(now) {
			const p = Math.min(1, (now - t0) / duration);
			const e = 1 - Math.pow(1 - p, 3);
			cursor.style.left = (startX + (cx - startX) * e) + 'px';
			cursor.style.top = (startY + (cy - startY) * e) + 'px';
			if (p < 1) { requestAnimationFrame(step); return; }
			const opts = {bubbles: true, cancelable: true, view: window, clientX: cx, clientY: cy};
			target.dispatchEvent(new MouseEvent('mousedown', opts));
			target.dispatchEvent(new MouseEvent('mouseup', opts));
			target.dispatchEvent(new MouseEvent('click', opts));
			try { target.click(); } catch (e) {}
			const tag = target.tagName.toLowerCase();
			if (tag === 'input' || tag === 'textarea' || target.isContentEditable) {
				try { target.focus(); } catch (e) {}
			}
			resolve({found: true});
		}
		requestAnimationFrame(step);
	});
})();`, findTargetJS, overlayJS, browser.JSONEncode(targetID), browser.JSONEncode(fallbackText))
}

// typeTextScript sets the value through the native prototype setter so
// framework-controlled inputs (React et al.) observe the change, then fires
// input and change.
func typeTextScript(targetID, fallbackText, text string) string {
	return fmt.Sprintf(`(function() {
	%s
	const target = findTarget(%s, %s);
	if (!target) return {found: false};
	const text = %s;
	try { target.focus(); } catch (e) {}
	const tag = target.tagName.toLowerCase();
	if (tag === 'input' || tag === 'textarea') {
		const proto = tag === 'textarea' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
		const desc = Object.getOwnPropertyDescriptor(proto, 'value');
		if (desc && desc.set) {
			desc.set.call(target, text);
		} else {
			target.value = text;
		}
		target.dispatchEvent(new Event('input', {bubbles: true}));
		target.dispatchEvent(new Event('change', {bubbles: true}));
	} else if (target.isContentEditable) {
		target.textContent = text;
		target.dispatchEvent(new Event('input', {bubbles: true}));
	} else {
		return {found: true, typed: false};
	}
	return {found: true, typed: true};
})();`, findTargetJS, browser.JSONEncode(targetID), browser.JSONEncode(fallbackText), browser.JSONEncode(text))
}

// scrollScript moves the window by 0.7 viewport heights in the requested
// direction, falling back to the first scrollable container when the window
// itself cannot move.
func scrollScript(direction string) string {
	return fmt.Sprintf(`(function() {
	const dir = %s === 'up' ? -1 : 1;
	const amount = dir * Math.round(window.innerHeight * 0.7);
	const beforeY = window.scrollY;
	window.scrollBy({top: amount, behavior: 'smooth'});
	const windowMoves = document.documentElement.scrollHeight > window.innerHeight + 4;
	if (windowMoves && (dir < 0 ? beforeY > 0 : true)) {
		return {scrolled: true, container: 'window'};
	}
	const preferred = ['main', 'section', '#content', '.overflow-y-auto', '.overflow-auto'];
	for (const sel of preferred) {
		for (const node of document.querySelectorAll(sel)) {
			if (node.scrollHeight > node.clientHeight + 4) {
				node.scrollBy({top: amount, behavior: 'smooth'});
				return {scrolled: true, container: sel};
			}
		}
	}
	for (const node of document.querySelectorAll('div, aside, article')) {
		const o = window.getComputedStyle(node).overflowY;
		if ((o === 'auto' || o === 'scroll') && node.scrollHeight > node.clientHeight + 4) {
			node.scrollBy({top: amount, behavior: 'smooth'});
			return {scrolled: true, container: node.tagName.toLowerCase()};
		}
	}
	return {scrolled: false};
})();`, browser.JSONEncode(direction))
}

// scrollToScript centers the target and rings it briefly.
func scrollToScript(targetID, fallbackText string) string {
	return fmt.Sprintf(`(function() {
	%s
	%s
	const target = findTarget(%s, %s);
	if (!target) return {found: false};
	target.scrollIntoView({behavior: 'smooth', block: 'center'});
	const rect = target.getBoundingClientRect();
	const ring = vcOverlay('__vc_ring',
		'position:fixed;pointer-events:none;z-index:2147483646;' +
		'border:3px solid rgba(99,102,241,0.9);border-radius:8px;' +
		'left:' + (rect.left - 6) + 'px;top:' + (rect.top - 6) + 'px;' +
		'width:' + (rect.width + 12) + 'px;height:' + (rect.height + 12) + 'px;');
	setTimeout(() => ring.remove(), 3000);
	return {found: true};
})();`, findTargetJS, overlayJS, browser.JSONEncode(targetID), browser.JSONEncode(fallbackText))
}

// highlightScript rings the target; spotlight additionally dims the rest of
// the page with a cutout. Both fade on their own after three seconds.
func highlightScript(targetID, fallbackText string, spotlight bool) string {
	return fmt.Sprintf(`(function() {
	%s
	%s
	const target = findTarget(%s, %s);
	if (!target) return {found: false};
	target.scrollIntoView({behavior: 'smooth', block: 'center'});
	const rect = target.getBoundingClientRect();
	const spotlight = %s;
	const nodes = [];
	if (spotlight) {
		nodes.push(vcOverlay('__vc_spot',
			'position:fixed;pointer-events:none;z-index:2147483645;' +
			'left:' + rect.left + 'px;top:' + rect.top + 'px;' +
			'width:' + rect.width + 'px;height:' + rect.height + 'px;' +
			'box-shadow:0 0 0 100vmax rgba(0,0,0,0.55);border-radius:8px;'));
	}
	nodes.push(vcOverlay('__vc_ring',
		'position:fixed;pointer-events:none;z-index:2147483646;' +
		'border:3px solid rgba(99,102,241,0.9);border-radius:8px;' +
		'left:' + (rect.left - 6) + 'px;top:' + (rect.top - 6) + 'px;' +
		'width:' + (rect.width + 12) + 'px;height:' + (rect.height + 12) + 'px;'));
	setTimeout(() => nodes.forEach(n => n.remove()), 3000);
	return {found: true};
})();`, findTargetJS, overlayJS, browser.JSONEncode(targetID), browser.JSONEncode(fallbackText),
		browser.JSONEncode(spotlight))
}

// clearScript drops every overlay the executor has drawn.
const clearScript = `(function() {
	document.querySelectorAll('.__vc_overlay').forEach(n => n.remove());
	const cursor = document.getElementById('__vc_cursor');
	if (cursor) cursor.remove();
	return {cleared: true};
})();`

// modalScript answers whether a blocking dialog is on screen.
const modalScript = `!!document.querySelector(
	'dialog[open], [role="dialog"], [role="alertdialog"], .modal.show, .modal.active, [aria-modal="true"]')`

// softNavigateScript attempts a same-origin SPA transition: push the new
// history entry and let the router react to popstate.
func softNavigateScript(targetURL string) string {
	return fmt.Sprintf(`(function() {
	try {
		history.pushState({}, '', %s);
		window.dispatchEvent(new PopStateEvent('popstate', {state: {}}));
		return {pushed: true};
	} catch (e) {
		return {pushed: false, error: String(e)};
	}
})();`, browser.JSONEncode(targetURL))
}

// currentHrefScript reads location.href for the soft-navigation check.
const currentHrefScript = `location.href`
