package executor

// presetDockerfiles maps a declared project preset (§3 Project.Preset) to
// the Dockerfile template used when the source tree doesn't carry one.
var presetDockerfiles = map[string]string{
	"NextJs": "FROM node:20-alpine\n" +
		"WORKDIR /app\n" +
		"COPY package*.json ./\n" +
		"RUN npm ci\n" +
		"COPY . .\n" +
		"RUN npm run build\n" +
		"EXPOSE 3000\n" +
		"CMD [\"npm\", \"start\"]\n",
	"Astro": "FROM node:20-alpine\n" +
		"WORKDIR /app\n" +
		"COPY package*.json ./\n" +
		"RUN npm ci\n" +
		"COPY . .\n" +
		"RUN npm run build\n" +
		"EXPOSE 4321\n" +
		"CMD [\"node\", \"./dist/server/entry.mjs\"]\n",
	"Static": "FROM nginx:alpine\n" +
		"COPY . /usr/share/nginx/html\n" +
		"EXPOSE 80\n",
}

// genericDockerfile is used for any preset not in presetDockerfiles (e.g.
// "Dockerfile", meaning the source tree is expected to bring its own).
const genericDockerfile = "FROM node:20-alpine\n" +
	"WORKDIR /app\n" +
	"COPY . .\n" +
	"RUN [ -f package.json ] && npm ci && npm run build || true\n" +
	"EXPOSE 3000\n" +
	"CMD [\"npm\", \"start\"]\n"

// generateDockerfile returns the template for preset, falling back to a
// generic Node-based template for presets without a dedicated entry.
func generateDockerfile(preset string) string {
	if tmpl, ok := presetDockerfiles[preset]; ok {
		return tmpl
	}
	return genericDockerfile
}
