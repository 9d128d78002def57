// File: internal/blueprint/collector.go
package blueprint

// collectorJS walks the live document (piercing open shadow roots and
// same-origin iframes), filters to interactive and context-bearing elements
// inside the expanded viewport, and assigns each one a deterministic id
// cached on the element as data-copilot-id. The id derivation must stay
// bit-identical to StableID in stable_id.go.
const collectorJS = `(function() {
	const NOISE = new Set(['path','rect','circle','ellipse','line','polyline','polygon','g','defs',
		'use','symbol','mask','pattern','stop','lineargradient','radialgradient','clippath','filter',
		'script','style','noscript','meta','link','br','hr','template','head','title','base']);
	const INTERACTIVE_TAGS = new Set(['a','button','input','select','textarea','summary','option']);
	const INTERACTIVE_ROLES = new Set(['button','link','tab','checkbox','radio','menuitem',
		'menuitemcheckbox','menuitemradio','switch','combobox','option','slider','searchbox','textbox']);
	const CONTEXT_TAGS = new Set(['h1','h2','h3','h4','h5','h6','label','th','td','nav','p','li','dt','dd']);
	const HINT_RE = /(value|price|stat|count|total|metric|amount)/i;
	const MARGIN = 100;
	const vw = window.innerWidth;
	const vh = window.innerHeight;

	function cleanText(s) {
		return (s || '').replace(/\s+/g, ' ').trim().slice(0, 80);
	}

	function textOf(el) {
		const aria = el.getAttribute('aria-label');
		if (aria && aria.trim()) return cleanText(aria);
		const title = el.getAttribute('title');
		if (title && title.trim()) return cleanText(title);
		const ph = el.getAttribute('placeholder');
		if (ph && ph.trim()) return cleanText(ph);
		const inner = el.innerText || el.textContent || '';
		if (inner.trim()) return cleanText(inner);
		const img = el.querySelector ? el.querySelector('img[alt]') : null;
		if (img) return cleanText(img.getAttribute('alt'));
		const svgTitle = el.querySelector ? el.querySelector('svg title') : null;
		if (svgTitle) return cleanText(svgTitle.textContent);
		return '';
	}

	function djb2(s) {
		let h = 5381;
		for (let i = 0; i < s.length; i++) {
			h = ((h << 5) + h) ^ s.charCodeAt(i);
		}
		return h >>> 0;
	}

	function pathOf(el) {
		const parts = [];
		let node = el;
		for (let depth = 0; node && node.parentElement && depth < 5; depth++) {
			const parent = node.parentElement;
			const idx = Array.prototype.indexOf.call(parent.children, node) + 1;
			parts.unshift(node.tagName.toLowerCase() + ':' + idx);
			node = parent;
		}
		return parts.join('>');
	}

	function isInteractive(el, tag, role, style) {
		if (INTERACTIVE_TAGS.has(tag)) return true;
		if (INTERACTIVE_ROLES.has(role)) return true;
		if (el.hasAttribute('onclick')) return true;
		const ti = el.getAttribute('tabindex');
		if (ti !== null && parseInt(ti, 10) >= 0) return true;
		if (el.isContentEditable) return true;
		if (style.cursor === 'pointer') return true;
		return false;
	}

	function isContext(el, tag, text) {
		if (CONTEXT_TAGS.has(tag)) return text.length >= 2;
		if (HINT_RE.test(String(el.className || ''))) {
			return el.children.length === 0 && text.length >= 2 && text.length <= 200;
		}
		return false;
	}

	const out = [];
	const seen = new Set();

	function handle(el, offX, offY) {
		const tag = el.tagName.toLowerCase();
		if (NOISE.has(tag)) return;
		const rect = el.getBoundingClientRect();
		if (rect.width < 2 || rect.height < 2) return;
		const x = rect.left + offX;
		const y = rect.top + offY;
		if (x > vw + MARGIN || y > vh + MARGIN) return;
		if (x + rect.width < -MARGIN || y + rect.height < -MARGIN) return;
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') return;

		const role = (el.getAttribute('role') || '').toLowerCase();
		const text = textOf(el);
		const interactive = isInteractive(el, tag, role, style);
		if (!interactive && !isContext(el, tag, text)) return;

		const href = el.getAttribute('href') || '';
		const itype = el.getAttribute('type') || '';

		let state = '';
		if (el === document.activeElement) {
			state = 'focused';
		} else if (el.classList && (el.classList.contains('active') || el.classList.contains('selected'))) {
			state = 'active';
		} else if (el.getAttribute('aria-selected') === 'true') {
			state = 'selected';
		}

		let id = el.dataset ? el.dataset.copilotId : null;
		let isNew = false;
		if (!id) {
			const seed = [tag, text.slice(0, 30), role, href, itype, pathOf(el)].join('|');
			id = 't-' + djb2(seed).toString(36);
			isNew = true;
		}
		let unique = id;
		let n = 2;
		while (seen.has(unique)) { unique = id + '-' + (n++); }
		seen.add(unique);
		if (el.dataset && el.dataset.copilotId !== unique) {
			try { el.dataset.copilotId = unique; } catch (e) {}
		}

		out.push({
			id: unique,
			tag: tag,
			text: text,
			role: role,
			href: href,
			input_type: itype,
			state: state,
			x: Math.round(x),
			y: Math.round(y),
			w: Math.round(rect.width),
			h: Math.round(rect.height),
			interactive: interactive,
			is_new: isNew
		});
	}

	function collect(root, offX, offY) {
		const all = root.querySelectorAll('*');
		for (const el of all) {
			handle(el, offX, offY);
			if (el.shadowRoot) {
				collect(el.shadowRoot, offX, offY);
			}
			if (el.tagName === 'IFRAME') {
				try {
					const idoc = el.contentDocument;
					if (idoc) {
						const r = el.getBoundingClientRect();
						collect(idoc, offX + r.left, offY + r.top);
					}
				} catch (e) {
					// Cross-origin frame: skip silently.
				}
			}
		}
	}

	collect(document, 0, 0);

	return {
		url: location.href,
		scroll_y: Math.round(window.scrollY || 0),
		elements: out
	};
})();`
