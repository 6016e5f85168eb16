package deployment

import (
	"fmt"
	"strings"
)

// DescriptorFileName is the build descriptor the runtime looks for at the
// root of a build context.
const DescriptorFileName = "Dockerfile"

// DescriptorParams configures the default build descriptor.
type DescriptorParams struct {
	BaseImage     string
	ContainerPort int
	StartCommand  []string
}

// DefaultDescriptorParams returns the parameters for a Node.js service.
func DefaultDescriptorParams() DescriptorParams {
	return DescriptorParams{
		BaseImage:     "node:18-alpine",
		ContainerPort: DefaultContainerPort,
		StartCommand:  []string{"npm", "start"},
	}
}

// RenderDescriptor renders the default Dockerfile for a project that ships
// without one.
//
// The descriptor installs dependencies, copies the application, drops to a
// non-root user, exposes the container port, probes /health periodically and
// runs the start command.
func RenderDescriptor(p DescriptorParams) string {
	defaults := DefaultDescriptorParams()
	if p.BaseImage == "" {
		p.BaseImage = defaults.BaseImage
	}
	if p.ContainerPort == 0 {
		p.ContainerPort = defaults.ContainerPort
	}
	if len(p.StartCommand) == 0 {
		p.StartCommand = defaults.StartCommand
	}

	quoted := make([]string, 0, len(p.StartCommand))
	for _, arg := range p.StartCommand {
		quoted = append(quoted, fmt.Sprintf("%q", arg))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n\n", p.BaseImage)
	b.WriteString("WORKDIR /app\n\n")
	b.WriteString("# Copy package files\n")
	b.WriteString("COPY package*.json ./\n\n")
	b.WriteString("# Install dependencies\n")
	b.WriteString("RUN npm install --production\n\n")
	b.WriteString("# Copy application code\n")
	b.WriteString("COPY . .\n\n")
	b.WriteString("# Create non-root user\n")
	b.WriteString("RUN addgroup -g 1001 -S nodejs\n")
	b.WriteString("RUN adduser -S nodejs -u 1001\n\n")
	b.WriteString("RUN chown -R nodejs:nodejs /app\n")
	b.WriteString("USER nodejs\n\n")
	fmt.Fprintf(&b, "EXPOSE %d\n\n", p.ContainerPort)
	b.WriteString("HEALTHCHECK --interval=30s --timeout=3s --start-period=5s --retries=3 \\\n")
	fmt.Fprintf(&b, "  CMD wget -qO- http://localhost:%d/health || exit 1\n\n", p.ContainerPort)
	fmt.Fprintf(&b, "CMD [%s]\n", strings.Join(quoted, ", "))
	return b.String()
}
