package emit

import (
	"encoding/json"
	"strings"
)

// runtimeSource is the module loader. It keeps its state on self so several runtime
// chunks on one page share a single registry. Chunk files push
// [[names...], {id: [factory, deps]}, entryID?] onto self.__chunkplan__.
const runtimeSource = `(function () {
  var state = self.__chunkplan_state__ = self.__chunkplan_state__ || {registry: {}, cache: {}, installed: {}, loading: {}, chunks: {}, targets: {}};
  var publicPath = __PUBLIC_PATH__;
  var chunks = __CHUNKS__;
  var targets = __TARGETS__;
  var k;
  for (k in chunks) state.chunks[k] = chunks[k];
  for (k in targets) state.targets[k] = targets[k];
  if (state.started) return;
  state.started = true;

  function has(obj, key) {
    return Object.prototype.hasOwnProperty.call(obj, key);
  }

  function load(id) {
    if (has(state.cache, id)) return state.cache[id].exports;
    var def = state.registry[id];
    if (!def) throw new Error("chunkplan: module " + id + " is not loaded");
    var module = state.cache[id] = {id: id, exports: {}};
    def[0].call(module.exports, module, module.exports, scoped(def[1] || {}));
    return module.exports;
  }

  function scoped(deps) {
    function require(request) {
      return load(has(deps, request) ? deps[request] : request);
    }
    require.e = function (request) {
      var id = has(deps, request) ? deps[request] : request;
      return ensure(state.targets[id]).then(function () { return load(id); });
    };
    return require;
  }

  function inject(tag, attrs) {
    return new Promise(function (resolve, reject) {
      var el = document.createElement(tag);
      for (var a in attrs) el[a] = attrs[a];
      el.onload = function () { resolve(); };
      el.onerror = function () { reject(new Error("chunkplan: failed to load " + (attrs.src || attrs.href))); };
      document.head.appendChild(el);
    });
  }

  function ensure(name) {
    if (!name || state.installed[name]) return Promise.resolve();
    if (state.loading[name]) return state.loading[name];
    var info = state.chunks[name];
    if (!info) return Promise.reject(new Error("chunkplan: unknown chunk " + name));
    state.loading[name] = Promise.all(info[2].map(ensure)).then(function () {
      var loads = [inject("script", {src: publicPath + info[0]})];
      if (info[1]) loads.push(inject("link", {rel: "stylesheet", href: publicPath + info[1]}));
      return Promise.all(loads);
    }).catch(function (err) {
      delete state.loading[name];
      throw err;
    });
    return state.loading[name];
  }

  function push(item) {
    var names = item[0], modules = item[1], id, i;
    for (id in modules) state.registry[id] = modules[id];
    for (i = 0; i < names.length; i++) state.installed[names[i]] = true;
    if (item.length > 2) load(item[2]);
  }

  var queue = self.__chunkplan__ = self.__chunkplan__ || [];
  for (var i = 0; i < queue.length; i++) push(queue[i]);
  queue.push = push;
})();
`

// asyncChunk is the runtime's view of a chunk it can load on demand: js file, css file, dependencies.
type asyncChunk [3]any

func renderRuntime(publicPath string, chunks map[string]asyncChunk, targets map[string]string) ([]byte, error) {
	pp, err := json.Marshal(publicPath)
	if err != nil {
		return nil, err
	}
	cs, err := json.Marshal(chunks)
	if err != nil {
		return nil, err
	}
	ts, err := json.Marshal(targets)
	if err != nil {
		return nil, err
	}

	r := strings.NewReplacer(
		"__PUBLIC_PATH__", string(pp),
		"__CHUNKS__", string(cs),
		"__TARGETS__", string(ts),
	)
	return []byte(r.Replace(runtimeSource)), nil
}
