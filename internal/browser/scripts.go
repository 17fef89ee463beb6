package browser

// Page scripts. Element scripts are arrow functions: rod applies them with
// the element as `this`.

const jsPageState = `() => ({
	url: location.href,
	title: document.title,
	focused: document.hasFocus(),
	visible: document.visibilityState === 'visible',
})`

const jsViewport = `() => ({ width: window.innerWidth, height: window.innerHeight })`

const jsElementAt = `(x, y) => document.elementFromPoint(x, y)`

const jsActiveElement = `() => {
	let el = document.activeElement;
	while (el && el.shadowRoot && el.shadowRoot.activeElement) {
		el = el.shadowRoot.activeElement;
	}
	return el;
}`

const jsMetrics = `() => {
	const vv = window.visualViewport;
	return {
		innerWidth: window.innerWidth,
		innerHeight: window.innerHeight,
		outerWidth: window.outerWidth,
		outerHeight: window.outerHeight,
		devicePixelRatio: window.devicePixelRatio,
		visualViewport: vv ? {
			width: vv.width,
			height: vv.height,
			scale: vv.scale,
			offsetLeft: vv.offsetLeft,
			offsetTop: vv.offsetTop,
		} : null,
		scrollX: window.scrollX,
		scrollY: window.scrollY,
		locationHref: window.location.href,
	};
}`

const jsElementInfo = `() => {
	let editable = '';
	if (this.tagName === 'INPUT') editable = 'input';
	else if (this.tagName === 'TEXTAREA') editable = 'textarea';
	else if (this.isContentEditable) editable = 'contenteditable';
	return { tag: this.tagName || '', id: this.id || '', editable };
}`

const jsScrollIntoView = `() => this.scrollIntoView({ block: 'center', inline: 'center' })`

const jsDispatchClick = `(x, y) => {
	this.dispatchEvent(new MouseEvent('click', {
		bubbles: true,
		cancelable: true,
		view: window,
		clientX: x,
		clientY: y,
	}));
}`

const jsFocus = `() => this.focus()`

// jsReadText reports selection offsets in UTF-16 units. Inputs expose them
// directly; contenteditable regions are measured with a Range.
const jsReadText = `() => {
	if (this.tagName === 'INPUT' || this.tagName === 'TEXTAREA') {
		const value = String(this.value ?? '');
		let start = null, end = null;
		try {
			if (typeof this.selectionStart === 'number') {
				start = this.selectionStart;
				end = this.selectionEnd;
			}
		} catch (e) {}
		return { value, start, end };
	}
	const value = this.textContent ?? '';
	const sel = window.getSelection();
	if (sel && sel.rangeCount && this.contains(sel.anchorNode)) {
		const r = sel.getRangeAt(0);
		const pre = document.createRange();
		pre.selectNodeContents(this);
		pre.setEnd(r.startContainer, r.startOffset);
		const start = pre.toString().length;
		return { value, start, end: start + r.toString().length };
	}
	return { value, start: null, end: null };
}`

const jsWriteText = `(value, cursor) => {
	if (this.tagName === 'INPUT' || this.tagName === 'TEXTAREA') {
		const proto = this.tagName === 'INPUT' ? HTMLInputElement.prototype : HTMLTextAreaElement.prototype;
		const setter = Object.getOwnPropertyDescriptor(proto, 'value');
		if (setter && setter.set) setter.set.call(this, value);
		else this.value = value;
		try {
			if (typeof this.setSelectionRange === 'function') this.setSelectionRange(cursor, cursor);
		} catch (e) {}
	} else {
		this.textContent = value;
		const node = this.firstChild;
		const sel = window.getSelection();
		if (node && sel) {
			const r = document.createRange();
			r.setStart(node, Math.min(cursor, node.length ?? 0));
			r.collapse(true);
			sel.removeAllRanges();
			sel.addRange(r);
		}
	}
	this.dispatchEvent(new Event('input', { bubbles: true }));
}`
