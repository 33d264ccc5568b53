package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

var (
	semverRegexp = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)
	javaRegexp   = regexp.MustCompile(`version "(\d+(?:\.\d+)*)`)
)

const (
	jdkVersion         = "17.0.12+7"
	androidSDKVersion  = "11076708"
	wixVersion         = "5.0.2"
	rceditVersion      = "2.0.0"
	linuxdeployVersion = "1-alpha-20240109-1"
)

// Builtin returns the tools satchel knows out of the box
func Builtin() []*Tool {
	return []*Tool{
		{
			Name:          "git",
			Executables:   []string{"git"},
			VersionArgs:   []string{"--version"},
			VersionRegexp: semverRegexp,
			MinVersion:    "2.17.0",
			Remediation:   "Install git from https://git-scm.com/downloads and make sure it is on your PATH.",
		},
		{
			Name:          "python",
			EnvVar:        "SATCHEL_PYTHON",
			Executables:   []string{"python3", "python"},
			VersionArgs:   []string{"--version"},
			VersionRegexp: semverRegexp,
			MinVersion:    "3.9.0",
			Remediation:   "Install Python 3.9 or newer, or point SATCHEL_PYTHON to a Python interpreter.",
		},
		{
			Name:          "docker",
			Executables:   []string{"docker"},
			VersionArgs:   []string{"--version"},
			VersionRegexp: semverRegexp,
			MinVersion:    "19.0.0",
			Remediation:   "Install Docker from https://docs.docker.com/get-docker/ and make sure the daemon is running.",
		},
		{
			Name:    "java",
			EnvVar:  "JAVA_HOME",
			EnvPath: filepath.Join("bin", exe("java")),
			Probe: func(ctx context.Context, r *Registry) (string, error) {
				if r.HostOS != "darwin" {
					return "", nil
				}
				res, err := r.Runner.Run(ctx, satchel.Command{Name: "/usr/libexec/java_home", Args: []string{"-v", "17"}})
				if err != nil {
					return "", err
				}
				return filepath.Join(strings.TrimSpace(string(res.Stdout)), "bin", "java"), nil
			},
			VersionArgs:   []string{"-version"},
			VersionRegexp: javaRegexp,
			MinVersion:    "17.0.0",
			Download:      jdkDownload,
			Remediation:   "Install a Java 17 JDK and set JAVA_HOME, or let satchel install one for you.",
		},
		{
			Name:        "android_sdk",
			EnvVar:      "ANDROID_HOME",
			EnvPath:     filepath.Join("cmdline-tools", "latest", "bin", bat("sdkmanager")),
			Download:    androidSDKDownload,
			Remediation: "Set ANDROID_HOME to an Android SDK with the command line tools installed.",
		},
		{
			Name:   "xcode",
			HostOS: []string{"darwin"},
			Probe: func(ctx context.Context, r *Registry) (string, error) {
				res, err := r.Runner.Run(ctx, satchel.Command{Name: "xcode-select", Args: []string{"-p"}})
				if err != nil {
					return "", err
				}
				dev := strings.TrimSpace(string(res.Stdout))
				if !strings.Contains(dev, "Xcode") {
					return "", fmt.Errorf("%s is not an Xcode installation", dev)
				}
				return "/usr/bin/xcodebuild", nil
			},
			VersionArgs:   []string{"-version"},
			VersionRegexp: regexp.MustCompile(`Xcode (\d+\.\d+(?:\.\d+)?)`),
			MinVersion:    "13.0.0",
			Remediation:   "Install Xcode from the App Store and run `sudo xcode-select --switch /Applications/Xcode.app`.",
		},
		{
			Name:        "codesign",
			HostOS:      []string{"darwin"},
			KnownPaths:  map[string][]string{"darwin": {"/usr/bin/codesign"}},
			Remediation: "codesign is part of the Xcode command line tools: run `xcode-select --install`.",
		},
		{
			Name:        "hdiutil",
			HostOS:      []string{"darwin"},
			KnownPaths:  map[string][]string{"darwin": {"/usr/bin/hdiutil"}},
			Remediation: "hdiutil is part of macOS; check your installation.",
		},
		{
			Name:        "wix",
			EnvVar:      "WIX_HOME",
			EnvPath:     "wix.exe",
			HostOS:      []string{"windows"},
			Executables: []string{"wix"},
			Download: func(goos, goarch string) *Download {
				return &Download{
					URL:        fmt.Sprintf("https://github.com/wixtoolset/wix/releases/download/v%s/wix-cli-x64.zip", wixVersion),
					Version:    wixVersion,
					Archive:    Zip,
					Executable: "wix.exe",
				}
			},
			Remediation: "Install the WiX toolset from https://wixtoolset.org or set WIX_HOME.",
		},
		{
			Name:   "visualstudio",
			HostOS: []string{"windows"},
			Probe: func(ctx context.Context, r *Registry) (string, error) {
				res, err := r.Runner.Run(ctx, satchel.Command{
					Name: `C:\Program Files (x86)\Microsoft Visual Studio\Installer\vswhere.exe`,
					Args: []string{"-latest", "-products", "*", "-requires", "Microsoft.Component.MSBuild", "-find", `MSBuild\**\Bin\MSBuild.exe`},
				})
				if err != nil {
					return "", err
				}
				return strings.TrimSpace(strings.SplitN(string(res.Stdout), "\n", 2)[0]), nil
			},
			Remediation: "Install Visual Studio 2022 with the \"Desktop development with C++\" workload.",
		},
		{
			Name:   "rcedit",
			HostOS: []string{"windows"},
			Download: func(goos, goarch string) *Download {
				return &Download{
					URL:        fmt.Sprintf("https://github.com/electron/rcedit/releases/download/v%s/rcedit-x64.exe", rceditVersion),
					Version:    rceditVersion,
					Archive:    Binary,
					Executable: "rcedit-x64.exe",
				}
			},
		},
		{
			Name:        "flatpak",
			HostOS:      []string{"linux"},
			Executables: []string{"flatpak"},
			Remediation: "Install flatpak using your distribution's package manager.",
		},
		{
			Name:          "flatpak-builder",
			HostOS:        []string{"linux"},
			Executables:   []string{"flatpak-builder"},
			VersionArgs:   []string{"--version"},
			VersionRegexp: semverRegexp,
			MinVersion:    "1.0.0",
			Remediation:   "Install flatpak-builder using your distribution's package manager.",
		},
		{
			Name:   "linuxdeploy",
			HostOS: []string{"linux"},
			Download: func(goos, goarch string) *Download {
				arch := map[string]string{"amd64": "x86_64", "arm64": "aarch64"}[goarch]
				if arch == "" {
					return nil
				}
				return &Download{
					URL:        fmt.Sprintf("https://github.com/linuxdeploy/linuxdeploy/releases/download/%s/linuxdeploy-%s.AppImage", linuxdeployVersion, arch),
					Version:    linuxdeployVersion,
					Archive:    Binary,
					Executable: "linuxdeploy.AppImage",
				}
			},
		},
		{
			Name:        "dpkg-deb",
			HostOS:      []string{"linux"},
			Executables: []string{"dpkg-deb"},
			Remediation: "Building .deb packages requires dpkg-deb; install the dpkg package.",
		},
		{
			Name:        "rpmbuild",
			HostOS:      []string{"linux"},
			Executables: []string{"rpmbuild"},
			Remediation: "Building .rpm packages requires rpmbuild; install the rpm-build package.",
		},
	}
}

func jdkDownload(goos, goarch string) *Download {
	osName := map[string]string{"darwin": "mac", "linux": "linux", "windows": "windows"}[goos]
	arch := map[string]string{"amd64": "x64", "arm64": "aarch64"}[goarch]
	if osName == "" || arch == "" {
		return nil
	}

	ext, archive, executable := "tar.gz", TarGz, "bin/java"
	switch goos {
	case "windows":
		ext, archive, executable = "zip", Zip, "bin/java.exe"
	case "darwin":
		executable = "Contents/Home/bin/java"
	}
	tag := strings.ReplaceAll(jdkVersion, "+", "_")
	return &Download{
		URL: fmt.Sprintf("https://github.com/adoptium/temurin17-binaries/releases/download/jdk-%s/OpenJDK17U-jdk_%s_%s_hotspot_%s.%s",
			strings.ReplaceAll(jdkVersion, "+", "%2B"), arch, osName, tag, ext),
		Version:         jdkVersion,
		Archive:         archive,
		Executable:      executable,
		StripComponents: 1,
	}
}

func androidSDKDownload(goos, goarch string) *Download {
	osName := map[string]string{"darwin": "mac", "linux": "linux", "windows": "win"}[goos]
	if osName == "" {
		return nil
	}
	return &Download{
		URL:        fmt.Sprintf("https://dl.google.com/android/repository/commandlinetools-%s-%s_latest.zip", osName, androidSDKVersion),
		Version:    androidSDKVersion,
		Archive:    Zip,
		Executable: "cmdline-tools/bin/" + bat("sdkmanager"),
	}
}

func exe(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func bat(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".bat"
	}
	return name
}
