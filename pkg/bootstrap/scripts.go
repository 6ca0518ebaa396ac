package bootstrap

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/ahura-cloud/kube-provisioner/pkg/remote"
)

const (
	adminConf   = "/etc/kubernetes/admin.conf"
	kubeletConf = "/etc/kubernetes/kubelet.conf"
	apiPort     = 6443
	kubectl     = "kubectl --kubeconfig " + adminConf
)

// containerdConfig makes sure containerd runs with the systemd cgroup driver
// and the given sandbox image. Safe to run any number of times.
func containerdConfig(sandboxImage string) string {
	s := `mkdir -p /etc/containerd
if [ ! -s /etc/containerd/config.toml ] || grep -q 'disabled_plugins = \["cri"\]' /etc/containerd/config.toml; then
  containerd config default > /etc/containerd/config.toml
fi
sed -i 's/SystemdCgroup = false/SystemdCgroup = true/' /etc/containerd/config.toml
`
	if sandboxImage != "" {
		s += fmt.Sprintf("sed -i -E 's#^([[:space:]]*sandbox_image = ).*#\\1\"%s\"#' /etc/containerd/config.toml\n", sandboxImage)
	}
	return s
}

// bootstrapScript prepares a fresh Debian or Ubuntu host for kubeadm. Both
// package installs are skipped when the binaries are already there.
func bootstrapScript(series, sandboxImage string) string {
	repo := fmt.Sprintf("https://pkgs.k8s.io/core:/stable:/%s/deb/", series)
	return `set -eux
swapoff -a || true
sed -i.bak '/\sswap\s/d' /etc/fstab || true

cat >/etc/modules-load.d/k8s.conf <<'MODS'
overlay
br_netfilter
MODS
modprobe overlay
modprobe br_netfilter

cat >/etc/sysctl.d/99-kubernetes-cri.conf <<'SYS'
net.bridge.bridge-nf-call-iptables  = 1
net.ipv4.ip_forward                 = 1
net.bridge.bridge-nf-call-ip6tables = 1
SYS
sysctl --system >/dev/null

if ! command -v containerd >/dev/null 2>&1; then
  apt-get update -y
  apt-get install -y ca-certificates curl gnupg
  install -m 0755 -d /etc/apt/keyrings
  . /etc/os-release
  curl -fsSL "https://download.docker.com/linux/${ID}/gpg" | gpg --dearmor --batch --yes -o /etc/apt/keyrings/docker.gpg
  echo "deb [arch=$(dpkg --print-architecture) signed-by=/etc/apt/keyrings/docker.gpg] https://download.docker.com/linux/${ID} ${VERSION_CODENAME} stable" > /etc/apt/sources.list.d/docker.list
  apt-get update -y
  apt-get install -y containerd.io
fi
` + containerdConfig(sandboxImage) + `systemctl enable containerd
systemctl restart containerd

if ! command -v kubeadm >/dev/null 2>&1; then
  apt-get update -y
  apt-get install -y apt-transport-https ca-certificates curl gnupg
  install -m 0755 -d /etc/apt/keyrings
  curl -fsSL "` + repo + `Release.key" | gpg --dearmor --batch --yes -o /etc/apt/keyrings/kubernetes-apt-keyring.gpg
  chmod 0644 /etc/apt/keyrings/kubernetes-apt-keyring.gpg
  echo "deb [signed-by=/etc/apt/keyrings/kubernetes-apt-keyring.gpg] ` + repo + ` /" > /etc/apt/sources.list.d/kubernetes.list
  apt-get update -y
  apt-get install -y kubelet kubeadm kubectl
  apt-mark hold kubelet kubeadm kubectl
fi
systemctl enable --now kubelet
`
}

// initScript runs kubeadm init unless the control plane already exists, then
// installs the admin kubeconfig for root and the sudo user
func initScript(podCIDR, kubeadmVersion string) string {
	return fmt.Sprintf(`set -eux
if [ ! -f %[1]s ]; then
  kubeadm init --pod-network-cidr=%[2]s --kubernetes-version=%[3]s
fi
mkdir -p /root/.kube
cp -f %[1]s /root/.kube/config
chown root:root /root/.kube/config
if [ -n "${SUDO_USER:-}" ] && [ "${SUDO_USER}" != root ]; then
  UHOME=$(getent passwd "$SUDO_USER" | cut -d: -f6)
  mkdir -p "$UHOME/.kube"
  cp -f %[1]s "$UHOME/.kube/config"
  chown "$(id -u "$SUDO_USER"):$(id -g "$SUDO_USER")" "$UHOME/.kube/config"
fi
`, adminConf, remote.Quote(podCIDR), remote.Quote(kubeadmVersion))
}

func readyzScript() string {
	return kubectl + " get --raw=/readyz"
}

func cniScript(manifestURL string) string {
	return kubectl + " apply -f " + remote.Quote(manifestURL)
}

func joinTokenScript() string {
	return "kubeadm token create --print-join-command"
}

// apiCheckScript succeeds when host can open a TCP connection to the API port
func apiCheckScript(controlPlane string) string {
	return fmt.Sprintf(`timeout 5 bash -c "</dev/tcp/%s/%d"`, controlPlane, apiPort)
}

// joinScript joins a worker unless it already belongs to a cluster
func joinScript(joinCommand string) string {
	return fmt.Sprintf(`set -eux
if [ -f %s ]; then
  echo "already joined"
  exit 0
fi
%s
`, kubeletConf, joinCommand)
}

func untaintScript() string {
	return kubectl + " taint nodes --all node-role.kubernetes.io/control-plane- || true"
}

func repairNodeScript(sandboxImage string) string {
	return "set -eux\n" + containerdConfig(sandboxImage) + `systemctl restart containerd
systemctl restart kubelet
`
}

func imagePullScript(kubeadmVersion string) string {
	return "kubeadm config images pull --kubernetes-version=" + remote.Quote(kubeadmVersion)
}

func hostnameScript(hostname string) string {
	return "hostnamectl set-hostname -- " + remote.Quote(hostname)
}

func sizingScript() string {
	return `printf '%s %s\n' "$(nproc)" "$(awk '/MemTotal/ {print int($2/1024)}' /proc/meminfo)"`
}

// parseJoinCommand picks the kubeadm join line out of the token command output
func parseJoinCommand(out string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "sudo ")
		if strings.HasPrefix(line, "kubeadm join ") {
			return line, nil
		}
	}
	return "", fmt.Errorf("no kubeadm join command in output %q", strings.TrimSpace(out))
}

// parseSizing reads the "cpus memoryMB" line printed by sizingScript
func parseSizing(out string) (cpu, memoryMB int, err error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected sizing output %q", strings.TrimSpace(out))
	}
	if cpu, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, fmt.Errorf("invalid cpu count %q: %w", fields[0], err)
	}
	if memoryMB, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, fmt.Errorf("invalid memory %q: %w", fields[1], err)
	}
	return cpu, memoryMB, nil
}
