package ebook

// chapterCss is the stylesheet attached to every chapter.
const chapterCss = `
@namespace epub "http://www.idpf.org/2007/ops";
body { font-family: Georgia, serif; line-height: 1.6; margin: 20px; text-rendering: optimizeLegibility; -webkit-font-smoothing: antialiased; -moz-osx-font-smoothing: grayscale; }
h1, h2, h3, h4, h5, h6 { font-family: "Helvetica Neue", Helvetica, Arial, sans-serif; margin-top: 1.5em; margin-bottom: 0.5em; line-height: 1.3; color: #333; }
h1 { font-size: 2.2em; padding-bottom: 0.3em; }
h2 { font-size: 1.8em; }
p { margin-bottom: 1.2em; text-align: justify; color: #444; }
img { max-width: 100%; height: auto; display: block; margin: 1.5em auto; border: 1px solid #ddd; border-radius: 4px; padding: 4px; }
blockquote { font-style: italic; margin: 1.5em 20px; padding: 10px 15px; border-left: 4px solid #ccc; background-color: #f9f9f9; color: #555; }
ul, ol { margin-left: 20px; padding-left: 20px; margin-bottom: 1.2em; }
li { margin-bottom: 0.5em; }
pre { background-color: #f6f8fa; padding: 16px; overflow: auto; font-size: 85%; line-height: 1.45; border-radius: 3px; border: 1px solid #ddd; white-space: pre-wrap; word-wrap: break-word; }
code { font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, Courier, monospace; font-size: 85%; background-color: #f6f8fa; padding: .2em .4em; margin: 0; border-radius: 3px; }
pre code { padding: 0; margin: 0; background-color: transparent; border: none; }
a { color: #0366d6; text-decoration: none; }
a:hover { text-decoration: underline; }
hr { border: 0; height: 1px; background: #ddd; margin: 2em 0; }
small { font-size: 0.85em; color: #777; }
.post-metadata { font-size: 0.9em; color: #555; margin-bottom: 1.5em; background-color: #f8f9fa; padding: 0.8em; border-radius: 4px; }
.post-author { font-weight: bold; margin: 0 0 0.3em 0; }
.post-date, .post-link { margin: 0 0 0.3em 0; }
.post-header-separator { margin: 1.5em 0; }
.excluded-image { opacity: 0.7; }
`
